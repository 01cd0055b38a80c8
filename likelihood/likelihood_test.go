package likelihood

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"npag/types"
)

func subject(id string, values ...float64) *types.Subject {
	obs := make([]types.Observation, len(values))
	for i, v := range values {
		obs[i] = types.Observation{Time: float64(i + 1), Value: v}
	}
	return &types.Subject{ID: id, Observations: obs}
}

func TestErrorModels(t *testing.T) {
	add, err := NewErrorModel("additive", Poly{0.1, 0.2, 0, 0}, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if got := add.Sigma(2); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("加性 Sigma(2) = %v, 期望 1.0", got)
	}
	prop, _ := NewErrorModel("Proportional", Poly{0.1, 0.2, 0, 0}, 2)
	if got := prop.Sigma(2); math.Abs(got-1.0) > 1e-12 {
		t.Errorf("比例 Sigma(2) = %v, 期望 1.0", got)
	}
	if g := prop.WithGamma(4).Gamma(); g != 4 {
		t.Errorf("WithGamma = %v", g)
	}
	if _, err := NewErrorModel("exponential", Poly{}, 1); err == nil {
		t.Errorf("未知误差模型应报错")
	}
}

func TestDensityNormal(t *testing.T) {
	e := New(Additive{Poly: Poly{1}, Scale: 0}, 0)
	s := subject("1", 2)
	got := e.Density(s, types.Prediction{Values: []float64{1}})
	want := math.Exp(-0.5) / math.Sqrt(2*math.Pi)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Density = %v, 期望 %v", got, want)
	}
}

func TestDensityFloor(t *testing.T) {
	e := New(Additive{Poly: Poly{0.01}, Scale: 0}, 1e-300)
	s := subject("1", 10, 10)
	cases := map[string]types.Prediction{
		"failed":   {Err: errors.New("积分失败")},
		"mismatch": {Values: []float64{10}},
		"far":      {Values: []float64{1e6, 1e6}},
	}
	for name, p := range cases {
		if got := e.Density(s, p); got != 1e-300 {
			t.Errorf("%s: Density = %v, 期望下限", name, got)
		}
	}
	if got := e.Density(s, types.Prediction{Values: []float64{math.NaN(), 10}}); !math.IsNaN(got) {
		t.Errorf("NaN 预测应原样返回, 得到 %v", got)
	}
}

func TestPsiAndUnexplained(t *testing.T) {
	e := New(Additive{Poly: Poly{0.1}, Scale: 0}, 1e-300)
	subs := []*types.Subject{subject("a", 1), subject("b", 100)}
	preds := [][]types.Prediction{
		{{Values: []float64{1}}, {Values: []float64{1.1}}},
		{{Values: []float64{1}}, {Err: errors.New("fail")}},
	}
	psi, err := e.Psi(subs, preds)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := psi.Dims(); r != 2 || c != 2 {
		t.Fatalf("Psi 维度 %dx%d", r, c)
	}
	rows := Unexplained(psi, e.Floor)
	if len(rows) != 1 || rows[0] != 1 {
		t.Errorf("Unexplained = %v, 期望 [1]", rows)
	}
	if _, err := e.Psi(subs, preds[:1]); !errors.Is(err, types.ErrInternal) {
		t.Errorf("行数不符应返回内部错误: %v", err)
	}
}

func TestCheckFinite(t *testing.T) {
	psi := mat.NewDense(2, 2, []float64{1, 2, math.NaN(), 3})
	if r, c, ok := CheckFinite(psi); ok || r != 1 || c != 0 {
		t.Errorf("CheckFinite = %d,%d,%v", r, c, ok)
	}
}

func TestPosteriorAndObjective(t *testing.T) {
	psi := mat.NewDense(2, 3, []float64{
		0.2, 0.4, 0.0,
		0.1, 0.1, 0.8,
	})
	w := []float64{0.5, 0.25, 0.25}
	post := Posterior(psi, w)
	for i, row := range post {
		var s float64
		for _, v := range row {
			s += v
		}
		if math.Abs(s-1) > 1e-12 {
			t.Errorf("第%d行后验和 %v", i, s)
		}
	}
	want := math.Log(0.2) + math.Log(0.275)
	if got := Objective(psi, w); math.Abs(got-want) > 1e-12 {
		t.Errorf("Objective = %v, 期望 %v", got, want)
	}
}
