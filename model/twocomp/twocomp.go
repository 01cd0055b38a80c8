package twocomp

import (
	"npag/model"
	"npag/ode"
	"npag/types"
)

// Name 注册名
const Name = "two_comp_oral_lag"

// New 口服吸收（带延迟）一房室模型，吸收室+中央室两个状态
// 参数: ka, ke, v, tlag；协变量 wt 存在时按 70kg 标准化容积
func New() *model.ODE {
	return &model.ODE{
		Name:       Name,
		ParamNames: []string{"ka", "ke", "v", "tlag"},
		States:     2,
		Outputs:    1,
		Derive: func(_ float64, x, dx []float64, p types.ParameterVector, rate []float64, _ model.Covariates) {
			dx[0] = -p[0]*x[0] + rate[0]
			dx[1] = p[0]*x[0] - p[1]*x[1] + rate[1]
		},
		Out: func(_ float64, x []float64, p types.ParameterVector, _ int, cov model.Covariates) float64 {
			return x[1] / (p[2] * cov.Get("wt", 70) / 70)
		},
		Lag: func(p types.ParameterVector, input int) float64 {
			if input == 0 {
				return p[3]
			}
			return 0
		},
		Solver: ode.DefaultOptions(),
	}
}

func init() {
	model.Register(Name, func() model.Model { return New() })
}
