package types

// Prediction 单个（受试者, 支撑点）的仿真结果
// Err 非空表示仿真失败，似然按下限计
type Prediction struct {
	Values []float64
	Err    error
}

// Failed 仿真是否失败
func (p Prediction) Failed() bool { return p.Err != nil }
