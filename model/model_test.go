package model

import (
	"math"
	"testing"

	"npag/ode"
	"npag/types"
)

func oneComp() *ODE {
	return &ODE{
		Name:       "test_one_comp",
		ParamNames: []string{"ke", "v"},
		States:     1,
		Outputs:    1,
		Derive: func(_ float64, x, dx []float64, p types.ParameterVector, rate []float64, _ Covariates) {
			dx[0] = -p[0]*x[0] + rate[0]
		},
		Out: func(_ float64, x []float64, p types.ParameterVector, _ int, _ Covariates) float64 {
			return x[0] / p[1]
		},
		Solver: ode.DefaultOptions(),
	}
}

func TestBolusMatchesAnalytic(t *testing.T) {
	m := oneComp()
	m.Solver.AbsTol, m.Solver.RelTol = 1e-9, 1e-8
	s, err := types.NewSubject("1",
		[]types.Dose{{Time: 0, Amount: 100}, {Time: 12, Amount: 100}},
		[]types.Observation{{Time: 0, Value: 1}, {Time: 2, Value: 1}, {Time: 12, Value: 1}, {Time: 18, Value: 1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ke, v := 0.2, 10.0
	pred, err := m.Simulate(s, types.ParameterVector{ke, v})
	if err != nil {
		t.Fatalf("仿真失败: %v", err)
	}
	c := func(t float64) float64 {
		r := 100 / v * math.Exp(-ke*t)
		if t > 12 {
			r += 100 / v * math.Exp(-ke*(t-12))
		}
		return r
	}
	// t=0 与 t=12 的观测在给药之前
	want := []float64{0, c(2), 100 / v * math.Exp(-ke*12), c(18)}
	for i := range want {
		if math.Abs(pred[i]-want[i]) > 1e-4*math.Max(1, want[i]) {
			t.Errorf("观测%d: 预测 %v, 期望 %v", i, pred[i], want[i])
		}
	}
}

func TestInfusionMatchesAnalytic(t *testing.T) {
	m := oneComp()
	m.Solver.AbsTol, m.Solver.RelTol = 1e-9, 1e-8
	s, err := types.NewSubject("2",
		[]types.Dose{{Time: 0, Amount: 100, Duration: 2, Route: types.RouteInfusion}},
		[]types.Observation{{Time: 1, Value: 1}, {Time: 2, Value: 1}, {Time: 6, Value: 1}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ke, v := 0.3, 20.0
	pred, err := m.Simulate(s, types.ParameterVector{ke, v})
	if err != nil {
		t.Fatal(err)
	}
	r := 50.0
	during := func(t float64) float64 { return r / ke * (1 - math.Exp(-ke*t)) }
	want := []float64{during(1) / v, during(2) / v, during(2) * math.Exp(-ke*4) / v}
	for i := range want {
		if math.Abs(pred[i]-want[i]) > 1e-4 {
			t.Errorf("观测%d: 预测 %v, 期望 %v", i, pred[i], want[i])
		}
	}
}

func TestLagShiftsDose(t *testing.T) {
	m := oneComp()
	m.Lag = func(p types.ParameterVector, _ int) float64 { return 1 }
	s, _ := types.NewSubject("3", []types.Dose{{Time: 0, Amount: 10}},
		[]types.Observation{{Time: 0.5, Value: 0}, {Time: 1.5, Value: 0}}, nil)
	pred, err := m.Simulate(s, types.ParameterVector{0.1, 1})
	if err != nil {
		t.Fatal(err)
	}
	if pred[0] != 0 {
		t.Errorf("延迟前浓度应为0, 得到 %v", pred[0])
	}
	if want := 10 * math.Exp(-0.05); math.Abs(pred[1]-want) > 1e-3 {
		t.Errorf("延迟后浓度 %v, 期望 %v", pred[1], want)
	}
}

func TestSimulateRejectsBadInput(t *testing.T) {
	m := oneComp()
	s, _ := types.NewSubject("4", []types.Dose{{Time: 0, Amount: 10, Input: 3}},
		[]types.Observation{{Time: 1, Value: 0}}, nil)
	if _, err := m.Simulate(s, types.ParameterVector{0.1, 1}); err == nil {
		t.Errorf("输入房室越界应报错")
	}
	if _, err := m.Simulate(s, types.ParameterVector{0.1}); err == nil {
		t.Errorf("参数维度不符应报错")
	}
}

func TestRegistry(t *testing.T) {
	Register("test_registry_model", func() Model { return oneComp() })
	m, err := Get("test_registry_model")
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckParameters(m, []string{"ke", "v"}); err != nil {
		t.Errorf("参数名匹配失败: %v", err)
	}
	if err := CheckParameters(m, []string{"v", "ke"}); err == nil {
		t.Errorf("参数顺序不符应报错")
	}
	if _, err := Get("missing"); err == nil {
		t.Errorf("未知模型应报错")
	}
	found := false
	for _, n := range Names() {
		found = found || n == "test_registry_model"
	}
	if !found {
		t.Errorf("Names 未包含注册模型")
	}
}
