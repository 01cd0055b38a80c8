package grid

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"npag/parallel"
	"npag/types"
)

const maxBacktrack = 4

// move 单个点细化后的候选位置
type move struct {
	j      int
	params types.ParameterVector
	col    []float64
	gain   float64
}

// refine 对每个点在单位坐标中做投影梯度上升，其余点与全部权重固定
// 各点并行细化，之后按增益从大到小逐个接受，保证合并后的目标函数不下降
func (a *Adapter) refine(ps pointSet, eps float64, rep *Report) pointSet {
	if a.opts.RefineIterations <= 0 || eps <= 0 || ps.len() == 0 {
		return ps
	}
	pyl := ps.mixture()
	moves := parallel.Map(a.pool, ps.len(), func(j int) move {
		return a.refineOne(ps, pyl, j, eps)
	})
	sort.SliceStable(moves, func(x, y int) bool { return moves[x].gain > moves[y].gain })

	cur := logSum(pyl)
	for _, mv := range moves {
		if mv.params == nil || mv.gain <= a.opts.Margin {
			continue
		}
		w := ps.weights[mv.j]
		old := ps.cols[mv.j]
		next := make([]float64, len(pyl))
		for i := range pyl {
			next[i] = pyl[i] + w*(mv.col[i]-old[i])
		}
		if v := logSum(next); v > cur {
			pyl, cur = next, v
			ps.points[mv.j] = mv.params
			ps.cols[mv.j] = mv.col
			rep.Refined++
		}
	}
	return ps
}

func (a *Adapter) refineOne(ps pointSet, pyl []float64, j int, eps float64) move {
	w := ps.weights[j]
	if w <= 0 {
		return move{j: j}
	}
	others := make([]float64, len(pyl))
	for l, col := range ps.cols {
		if l == j {
			continue
		}
		floats.AddScaled(others, ps.weights[l], col)
	}
	var lastCol []float64
	eval := func(u []float64) float64 {
		col := a.column(a.bounds.Denormalize(clampUnit(u)))
		lastCol = col
		var s float64
		for i, o := range others {
			s += math.Log(o + w*col[i])
		}
		return s
	}

	u := a.bounds.Normalize(ps.points[j])
	start := eval(u)
	cur, curCol := start, ps.cols[j]
	moved := false
	for it := 0; it < a.opts.RefineIterations; it++ {
		g := fd.Gradient(nil, eval, u, &fd.Settings{
			Formula:     fd.Forward,
			Step:        a.opts.RefineStep,
			OriginKnown: true,
			OriginValue: cur,
		})
		norm := floats.Norm(g, 2)
		if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
			break
		}
		floats.Scale(1/norm, g)
		step := eps
		accepted := false
		for try := 0; try <= maxBacktrack; try++ {
			cand := clampUnit(floats.AddScaledTo(make([]float64, len(u)), u, step, g))
			if floats.Equal(cand, u) {
				break
			}
			if v := eval(cand); v > cur+a.opts.Margin {
				u, cur, curCol = cand, v, lastCol
				accepted, moved = true, true
				break
			}
			step /= 2
		}
		if !accepted {
			break
		}
	}
	if !moved {
		return move{j: j}
	}
	return move{j: j, params: a.bounds.Denormalize(u), col: curCol, gain: cur - start}
}

func clampUnit(u []float64) []float64 {
	out := make([]float64, len(u))
	for i, v := range u {
		out[i] = math.Min(1, math.Max(0, v))
	}
	return out
}

func logSum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += math.Log(v)
	}
	return s
}
