package onecomp

import (
	"math"
	"testing"

	"npag/model"
	"npag/types"
)

func TestRegistered(t *testing.T) {
	m, err := model.Get(Name)
	if err != nil {
		t.Fatalf("模型未注册: %v", err)
	}
	if err := model.CheckParameters(m, []string{"ke", "v"}); err != nil {
		t.Error(err)
	}
}

func TestSimulate(t *testing.T) {
	s, err := types.NewSubject("1", []types.Dose{{Time: 0, Amount: 500, Duration: 0.5, Route: types.RouteInfusion}},
		[]types.Observation{{Time: 0.5}, {Time: 4}, {Time: 12}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ke, v := 0.1, 50.0
	pred, err := New().Simulate(s, types.ParameterVector{ke, v})
	if err != nil {
		t.Fatal(err)
	}
	rate := 1000.0
	end := rate / ke * (1 - math.Exp(-ke*0.5))
	want := []float64{end / v, end * math.Exp(-ke*3.5) / v, end * math.Exp(-ke*11.5) / v}
	for i := range want {
		if math.Abs(pred[i]-want[i]) > 5e-3*want[i] {
			t.Errorf("观测%d: 预测 %v, 期望 %v", i, pred[i], want[i])
		}
	}
}
