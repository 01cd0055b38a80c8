package onecomp

import (
	"npag/model"
	"npag/ode"
	"npag/types"
)

// Name 注册名
const Name = "one_comp_iv"

// New 一房室静脉给药模型
// 参数: ke（消除速率常数）, v（分布容积）；输出: x/v
func New() *model.ODE {
	return &model.ODE{
		Name:       Name,
		ParamNames: []string{"ke", "v"},
		States:     1,
		Outputs:    1,
		Derive: func(_ float64, x, dx []float64, p types.ParameterVector, rate []float64, _ model.Covariates) {
			dx[0] = -p[0]*x[0] + rate[0]
		},
		Out: func(_ float64, x []float64, p types.ParameterVector, _ int, _ model.Covariates) float64 {
			return x[0] / p[1]
		},
		Solver: ode.DefaultOptions(),
	}
}

func init() {
	model.Register(Name, func() model.Model { return New() })
}
