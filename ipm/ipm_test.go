package ipm

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randomPsi(n, k int, seed uint64) *mat.Dense {
	rng := rand.New(rand.NewPCG(seed, 1))
	psi := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			psi.Set(i, j, rng.Float64()*math.Pow(10, -3*rng.Float64()))
		}
	}
	return psi
}

func logLik(psi mat.Matrix, w []float64) float64 {
	n, k := psi.Dims()
	var s float64
	for i := 0; i < n; i++ {
		var p float64
		for j := 0; j < k; j++ {
			p += psi.At(i, j) * w[j]
		}
		s += math.Log(p)
	}
	return s
}

// em 不动点迭代作为独立参照
func em(psi mat.Matrix, iters int) []float64 {
	n, k := psi.Dims()
	w := make([]float64, k)
	for j := range w {
		w[j] = 1 / float64(k)
	}
	for it := 0; it < iters; it++ {
		next := make([]float64, k)
		for i := 0; i < n; i++ {
			var p float64
			for j := 0; j < k; j++ {
				p += psi.At(i, j) * w[j]
			}
			for j := 0; j < k; j++ {
				next[j] += psi.At(i, j) * w[j] / p / float64(n)
			}
		}
		w = next
	}
	return w
}

func TestWeightsOnSimplex(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		psi := randomPsi(20, 35, seed)
		res, err := Optimize(psi, DefaultOptions())
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if !res.Converged {
			t.Errorf("seed %d: 未收敛 (%d 次迭代)", seed, res.Iterations)
		}
		var s float64
		for j, w := range res.Weights {
			if w < 0 {
				t.Fatalf("seed %d: 权重 %d 为负: %v", seed, j, w)
			}
			s += w
		}
		if math.Abs(s-1) > 1e-9 {
			t.Errorf("seed %d: 权重和 %v", seed, s)
		}
		if got := logLik(psi, res.Weights); math.Abs(got-res.Objective) > 1e-9 {
			t.Errorf("seed %d: Objective %v 与重新计算的 %v 不一致", seed, res.Objective, got)
		}
	}
}

func TestMatchesEM(t *testing.T) {
	psi := randomPsi(15, 12, 42)
	res, err := Optimize(psi, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	ref := logLik(psi, em(psi, 20000))
	if res.Objective < ref-1e-6 {
		t.Errorf("内点法目标 %v 低于 EM 参照 %v", res.Objective, ref)
	}
	uniform := make([]float64, 12)
	for j := range uniform {
		uniform[j] = 1.0 / 12
	}
	if res.Objective < logLik(psi, uniform) {
		t.Errorf("目标函数低于均匀权重")
	}
}

func TestSinglePoint(t *testing.T) {
	res, err := Optimize(mat.NewDense(1, 1, []float64{0.3}), DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(res.Weights[0]-1) > 1e-12 {
		t.Errorf("单点权重 %v, 期望 1", res.Weights[0])
	}
	if math.Abs(res.Objective-math.Log(0.3)) > 1e-12 {
		t.Errorf("目标函数 %v", res.Objective)
	}
}

func TestDominatedColumn(t *testing.T) {
	// 第二列处处小于第一列，最优权重集中于第一列
	psi := mat.NewDense(3, 2, []float64{
		0.9, 0.3,
		0.5, 0.1,
		0.7, 0.2,
	})
	res, err := Optimize(psi, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Weights[0] < 1-1e-6 {
		t.Errorf("权重 %v, 期望集中于第一列", res.Weights)
	}
}

func TestSeparatedSubjects(t *testing.T) {
	// 两个受试者各自只被一个点解释，最优权重各 1/2
	psi := mat.NewDense(2, 2, []float64{
		1, 1e-300,
		1e-300, 1,
	})
	res, err := Optimize(psi, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	for j, w := range res.Weights {
		if math.Abs(w-0.5) > 1e-6 {
			t.Errorf("权重 %d = %v, 期望 0.5", j, w)
		}
	}
}

func TestZeroRow(t *testing.T) {
	psi := mat.NewDense(2, 2, []float64{1, 2, 0, 0})
	_, err := Optimize(psi, DefaultOptions())
	var zr *ZeroRowError
	if !errors.As(err, &zr) || zr.Row != 1 {
		t.Errorf("期望 ZeroRowError{Row:1}, 得到 %v", err)
	}
}

func TestIterationLimit(t *testing.T) {
	psi := randomPsi(10, 10, 7)
	res, err := Optimize(psi, Options{Tolerance: 1e-14, MaxIterations: 2})
	if err != nil {
		t.Fatal(err)
	}
	if res.Converged {
		t.Errorf("两次迭代不应收敛")
	}
	var s float64
	for _, w := range res.Weights {
		s += w
	}
	if math.Abs(s-1) > 1e-9 {
		t.Errorf("未收敛时权重仍需归一化: %v", s)
	}
}
