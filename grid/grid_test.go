package grid

import (
	"math"
	"testing"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"npag/ipm"
	"npag/likelihood"
	"npag/maths"
	"npag/parallel"
	"npag/types"
)

// normalColumn 一维模型：预测值即参数本身，观测误差为正态
func normalColumn(ys []float64, sd float64) ColumnFunc {
	return func(p types.ParameterVector) []float64 {
		col := make([]float64, len(ys))
		for i, y := range ys {
			d := (y - p[0]) / sd
			col[i] = math.Max(math.Exp(-0.5*d*d)/(sd*math.Sqrt(2*math.Pi)), types.LikelihoodFloor)
		}
		return col
	}
}

func psiOf(g types.Grid, column ColumnFunc) *mat.Dense {
	cols := make([][]float64, len(g))
	for j, sp := range g {
		cols[j] = column(sp.Params)
	}
	psi := mat.NewDense(len(cols[0]), len(g), nil)
	for j, c := range cols {
		psi.SetCol(j, c)
	}
	return psi
}

func newAdapter(t *testing.T, opts Options, bounds types.Bounds, column ColumnFunc) *Adapter {
	t.Helper()
	sobol, err := maths.NewSobol(bounds.Dims(), 7)
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	a, err := New(opts, bounds, column, sobol, parallel.New(4), log)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

var line = types.Bounds{{Name: "theta", Min: 0, Max: 4}}

func TestMergePreservesWeight(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDistance = 1e-3
	a := newAdapter(t, opts, line, normalColumn([]float64{1}, 0.1))
	ps := pointSet{
		points:  []types.ParameterVector{{1.0}, {1.0 + 1e-4}, {3.0}},
		weights: []float64{0.3, 0.5, 0.2},
		cols:    [][]float64{{1}, {2}, {3}},
	}
	var rep Report
	out := a.merge(ps, &rep)
	if rep.Merged != 1 || out.len() != 2 {
		t.Fatalf("合并 %d 个点, 剩余 %d, 期望 1 与 2", rep.Merged, out.len())
	}
	if out.points[0][0] != 1.0+1e-4 {
		t.Errorf("应保留较重点的位置, 得到 %v", out.points[0])
	}
	if out.weights[0] != 0.3+0.5 {
		t.Errorf("合并权重 %v, 期望 %v", out.weights[0], 0.3+0.5)
	}
	var total float64
	for _, w := range out.weights {
		total += w
	}
	if math.Abs(total-1) > 1e-15 {
		t.Errorf("总权重 %v", total)
	}
}

func TestPruneKeepsObjective(t *testing.T) {
	ys := []float64{1, 1.1, 3, 3.2, 2.0}
	column := normalColumn(ys, 0.3)
	points := make([]types.ParameterVector, 41)
	for i := range points {
		points[i] = types.ParameterVector{float64(i) * 0.1}
	}
	g := types.NewGrid(points)
	psi := psiOf(g, column)
	res, err := ipm.Optimize(psi, ipm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	g.SetWeights(res.Weights)

	opts := DefaultOptions()
	a := newAdapter(t, opts, line, column)
	next, rep, err := a.Adapt(g, psi, 0)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Pruned+rep.Condensed == 0 {
		t.Fatalf("41个点应有可剪除的点")
	}
	if len(next) >= len(g) {
		t.Errorf("剪枝后 %d 个点, 原 %d", len(next), len(g))
	}
	if rep.Objective < res.Objective-1e-4 {
		t.Errorf("剪枝重优化后目标 %v 低于剪枝前 %v", rep.Objective, res.Objective)
	}
	if math.Abs(likelihood.Objective(psiOf(next, column), next.Weights())-rep.Objective) > 1e-9 {
		t.Errorf("报告的目标函数与新网格不一致")
	}
}

func TestImprovement(t *testing.T) {
	pyl := []float64{0.2, 0.4, 0.1}
	if g := Improvement(pyl, []float64{0.1, 0.2, 0.05}); g != 0 {
		t.Errorf("处处更差的候选提升应为0, 得到 %v", g)
	}
	if g := Improvement(pyl, pyl); g != 0 {
		t.Errorf("相同的候选提升应为0, 得到 %v", g)
	}
	double := []float64{0.4, 0.8, 0.2}
	if g := Improvement(pyl, double); math.Abs(g-3*math.Log(2)) > 1e-12 {
		t.Errorf("处处加倍的候选提升 %v, 期望 %v", g, 3*math.Log(2))
	}
	// 只解释一个受试者的候选：提升为正但小于全部替换
	g := Improvement(pyl, []float64{0.01, 0.01, 5})
	if g <= 0 {
		t.Errorf("有用候选的提升应为正, 得到 %v", g)
	}
}

func TestInjectRejectsUseless(t *testing.T) {
	// 两个点已精确解释两个受试者，候选只能变差
	ys := []float64{1, 3}
	column := normalColumn(ys, 0.05)
	g := types.Grid{
		{Params: types.ParameterVector{1}, Weight: 0.5},
		{Params: types.ParameterVector{3}, Weight: 0.5},
	}
	opts := DefaultOptions()
	opts.InjectBatch = 32
	opts.Condense = false
	a := newAdapter(t, opts, line, column)
	next, rep, err := a.Adapt(g, psiOf(g, column), 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Candidates == 0 {
		t.Fatalf("应生成候选点")
	}
	if rep.Injected != 0 || len(next) != 2 {
		t.Errorf("准入 %d 个候选, 网格 %d 个点, 期望不变", rep.Injected, len(next))
	}
	if rep.Refined != 0 {
		t.Errorf("最优点不应被移动")
	}
	if !rep.Stable {
		t.Errorf("未作改变应报告稳定: %+v", rep)
	}
}

func TestCandidatesRespectBounds(t *testing.T) {
	opts := DefaultOptions()
	opts.MinDistance = 0.01
	a := newAdapter(t, opts, line, normalColumn([]float64{1}, 0.1))
	ps := pointSet{points: []types.ParameterVector{{0.1}, {2}}, weights: []float64{0.5, 0.5}}
	cands := a.candidates(ps, 0.2)
	// 0.1-0.8 越界被丢弃，其余三个保留
	if len(cands) != 3 {
		t.Fatalf("候选 %v, 期望3个", cands)
	}
	for _, c := range cands {
		if !line.Contains(c) {
			t.Errorf("候选 %v 越界", c)
		}
	}
	// 与已有点重合的候选被丢弃
	ps = pointSet{points: []types.ParameterVector{{1}, {1.8}}, weights: []float64{0.5, 0.5}}
	for _, c := range a.candidates(ps, 0.2) {
		if c[0] == 1.8 || c[0] == 1 {
			t.Errorf("与已有点重合的候选 %v 未被丢弃", c)
		}
	}
}

func TestSeparatedSubjects(t *testing.T) {
	ys := []float64{1, 3}
	column := normalColumn(ys, 0.1)
	opts := DefaultOptions()
	opts.InjectBatch = 4
	a := newAdapter(t, opts, line, column)

	g := a.Sample(16)
	eps := types.InitialEps
	for cycle := 0; cycle < 40; cycle++ {
		psi := psiOf(g, column)
		res, err := ipm.Optimize(psi, ipm.DefaultOptions())
		if err != nil {
			t.Fatalf("第%d轮: %v", cycle, err)
		}
		g.SetWeights(res.Weights)
		next, _, err := a.Adapt(g, psi, eps)
		if err != nil {
			t.Fatalf("第%d轮: %v", cycle, err)
		}
		g = next
		eps = math.Max(eps*0.8, types.MinEps)
	}
	res, err := ipm.Optimize(psiOf(g, column), ipm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	g.SetWeights(res.Weights)

	var near1, near3, other float64
	for _, sp := range g {
		switch {
		case math.Abs(sp.Params[0]-1) < 0.1:
			near1 += sp.Weight
		case math.Abs(sp.Params[0]-3) < 0.1:
			near3 += sp.Weight
		default:
			other += sp.Weight
		}
	}
	if math.Abs(near1-0.5) > 0.05 || math.Abs(near3-0.5) > 0.05 {
		t.Errorf("两个真值附近的权重 %v / %v, 期望约 0.5", near1, near3)
	}
	if other > 0.01 {
		t.Errorf("其余点权重 %v 过大, 网格 %v", other, g)
	}
}
