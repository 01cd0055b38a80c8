package cycle

import (
	"fmt"
	"math"
	"slices"

	"npag/types"
)

// transitions 允许的状态转移
var transitions = map[types.State][]types.State{
	types.StateInitializing: {types.StateSimulating, types.StateFailed, types.StateCancelled},
	types.StateSimulating:   {types.StateOptimizing, types.StateFailed, types.StateCancelled},
	types.StateOptimizing:   {types.StateAdapting, types.StateConverged, types.StateFailed, types.StateCancelled},
	types.StateAdapting:     {types.StateSimulating, types.StateFailed, types.StateCancelled},
}

// canTransition 状态转移是否合法
func canTransition(from, to types.State) bool {
	return slices.Contains(transitions[from], to)
}

// transitionError 非法转移属于内部错误
func transitionError(from, to types.State, cycle int) error {
	return &types.FitError{
		Kind:   types.ErrInternal,
		Cycle:  cycle,
		Detail: fmt.Sprintf("非法状态转移 %v -> %v", from, to),
	}
}

// relativeImprovement (obj - prev) / max(1, |prev|)
func relativeImprovement(obj, prev float64) float64 {
	return (obj - prev) / math.Max(1, math.Abs(prev))
}

// stalled 本轮改进是否低于阈值
func stalled(obj, prev, tol float64) bool {
	return relativeImprovement(obj, prev) < tol
}

// guardInput 收敛判定所需的全部量
type guardInput struct {
	Cycle        int
	MinCycles    int
	MaxCycles    int
	Stalls       int     // 连续停滞轮数
	StallCycles  int     // 判定收敛所需的连续停滞轮数
	Stable       bool    // 上一轮网格调整未作改变
	SamePoints   bool    // 本轮网格与上一轮相同
	WeightDelta  float64 // ||w - w_prev||∞
	WeightTol    float64
	EpsExhausted bool    // 扩展尺度已降到下限
}

// objectiveConverged 条件(a)：目标函数连续停滞
// 尺度未降到下限时停滞只会继续缩小 eps，不算收敛
func objectiveConverged(in guardInput) bool {
	return in.Cycle >= in.MinCycles && in.EpsExhausted && in.Stalls >= in.StallCycles
}

// gridConverged 条件(b)：网格稳定且权重不再变化，同样要求 eps 已到下限
func gridConverged(in guardInput) bool {
	return in.Cycle >= in.MinCycles && in.EpsExhausted && in.Stable && in.SamePoints && in.WeightDelta < in.WeightTol
}

// cycleLimit 条件(c)：达到最大循环数
func cycleLimit(in guardInput) bool {
	return in.Cycle >= in.MaxCycles
}

// decide 返回收敛原因，未收敛为 ReasonNone
func decide(in guardInput) types.Reason {
	switch {
	case gridConverged(in):
		return types.ReasonStableGrid
	case objectiveConverged(in):
		return types.ReasonObjective
	case cycleLimit(in):
		return types.ReasonMaxCycles
	}
	return types.ReasonNone
}

// weightDelta 两组权重的最大差，长度不同返回 +Inf
func weightDelta(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var d float64
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}
