package types

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State 循环控制器状态
type State int

const (
	StateInitializing State = iota // 初始化网格
	StateSimulating                // 仿真预测
	StateOptimizing                // 权重优化
	StateAdapting                  // 网格调整
	StateConverged                 // 收敛（终态）
	StateFailed                    // 失败（终态）
	StateCancelled                 // 取消（终态）
)

var stateNames = [...]string{"Initializing", "Simulating", "Optimizing", "Adapting", "Converged", "Failed", "Cancelled"}

// String 状态名
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal 是否终态
func (s State) Terminal() bool {
	return s == StateConverged || s == StateFailed || s == StateCancelled
}

// Reason 终止原因
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonObjective   Reason = "objective stalled"
	ReasonStableGrid  Reason = "grid and weights stable"
	ReasonMaxCycles   Reason = "stopped at cycle limit"
	ReasonCancelled   Reason = "cancelled"
	ReasonFailed      Reason = "failed"
	ReasonUnexplained Reason = "unexplained subject"
)

// Snapshot 每个循环结束后发布的进度快照
type Snapshot struct {
	RunID     string   `json:"run_id"`
	Cycle     int      `json:"cycle"`
	State     State    `json:"state"`
	Objective float64  `json:"objective"`
	Neg2LL    float64  `json:"neg2ll"`
	GridSize  int      `json:"grid_size"`
	Gamma     float64  `json:"gamma"`
	Eps       float64  `json:"eps"`
	Stable    bool     `json:"stable"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Progress 进度接收者（单向，不可影响计算）
type Progress interface {
	Update(s Snapshot)
}

// ProgressFunc 函数适配
type ProgressFunc func(s Snapshot)

// Update 实现 Progress
func (f ProgressFunc) Update(s Snapshot) { f(s) }

// CycleState 单次运行的可变状态，仅由循环控制器修改
type CycleState struct {
	Cycle     int        // 已完成循环数
	State     State      // 当前状态
	Grid      Grid       // 当前网格
	Psi       *mat.Dense // 似然矩阵（受试者×支撑点）
	Objective float64    // 当前目标函数 Σlog(Ψw)
	History   []float64  // 历次目标函数
	Gamma     float64    // 误差模型缩放
	Eps       float64    // 网格扩展尺度
	Stable    bool       // 最近一次网格调整未作任何改变
	Warnings  []string   // 警告
}

// Snapshot 生成进度快照
func (cs *CycleState) Snapshot(runID string) Snapshot {
	return Snapshot{
		RunID:     runID,
		Cycle:     cs.Cycle,
		State:     cs.State,
		Objective: cs.Objective,
		Neg2LL:    -2 * cs.Objective,
		GridSize:  len(cs.Grid),
		Gamma:     cs.Gamma,
		Eps:       cs.Eps,
		Stable:    cs.Stable,
		Warnings:  append([]string(nil), cs.Warnings...),
	}
}
