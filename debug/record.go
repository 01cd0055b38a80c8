package debug

import (
	"encoding/json"
	"io"
	"sync"

	"npag/types"
)

// Record 记录每轮循环的进度
type Record struct {
	mu        sync.Mutex
	RunID     string    `json:"run_id"`
	Cycle     []int     `json:"cycle"`     // 循环序号列
	Objective []float64 `json:"objective"` // Σlog(Ψw) 列
	Neg2LL    []float64 `json:"neg2ll"`    // -2LL 列
	GridSize  []int     `json:"grid_size"` // 支撑点数列
	Gamma     []float64 `json:"gamma"`     // 误差缩放列
	Eps       []float64 `json:"eps"`       // 扩展尺度列
	Warnings  []string  `json:"warnings,omitempty"`
}

// Update 记录数据
func (list *Record) Update(s types.Snapshot) {
	list.mu.Lock()
	defer list.mu.Unlock()
	list.RunID = s.RunID
	list.Cycle = append(list.Cycle, s.Cycle)
	list.Objective = append(list.Objective, s.Objective)
	list.Neg2LL = append(list.Neg2LL, s.Neg2LL)
	list.GridSize = append(list.GridSize, s.GridSize)
	list.Gamma = append(list.Gamma, s.Gamma)
	list.Eps = append(list.Eps, s.Eps)
	// 快照中的警告是累计的
	if len(s.Warnings) > len(list.Warnings) {
		list.Warnings = append(list.Warnings, s.Warnings[len(list.Warnings):]...)
	}
}

// Len 已记录的循环数
func (list *Record) Len() int {
	list.mu.Lock()
	defer list.mu.Unlock()
	return len(list.Cycle)
}

// Render 格式和输出内容
func (list *Record) Render(w io.Writer) error {
	list.mu.Lock()
	defer list.mu.Unlock()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
