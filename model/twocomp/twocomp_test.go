package twocomp

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
	if err := model.CheckParameters(m, []string{"ka", "ke", "v", "tlag"}); err != nil {
		t.Error(err)
	}
}

func TestOralWithLag(t *testing.T) {
	wt := &types.Covariate{}
	wt.Add(0, 70)
	s, err := types.NewSubject("1", []types.Dose{{Time: 0, Amount: 100}},
		[]types.Observation{{Time: 0.25}, {Time: 2}, {Time: 8}}, types.Covariates{"wt": wt})
	if err != nil {
		t.Fatal(err)
	}
	ka, ke, v, lag := 1.2, 0.2, 10.0, 0.5
	pred, err := New().Simulate(s, types.ParameterVector{ka, ke, v, lag})
	if err != nil {
		t.Fatal(err)
	}
	c := func(t float64) float64 {
		if t <= lag {
			return 0
		}
		tt := t - lag
		return 100 * ka / (v * (ka - ke)) * (math.Exp(-ke*tt) - math.Exp(-ka*tt))
	}
	for i, o := range s.Observations {
		if want := c(o.Time); math.Abs(pred[i]-want) > 5e-3*math.Max(1, want) {
			t.Errorf("t=%v: 预测 %v, 期望 %v", o.Time, pred[i], want)
		}
	}
}
