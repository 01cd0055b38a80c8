package grid

import (
	"math"

	"npag/parallel"
	"npag/types"
)

const bisectIterations = 60

// candidates 自适应扩展（每点每维 ±eps·范围）与一批低差异序列点
// 落在边界外或与现有点、已选候选点距离过近的候选被丢弃
func (a *Adapter) candidates(ps pointSet, eps float64) []types.ParameterVector {
	var raw []types.ParameterVector
	if eps > 0 {
		for _, p := range ps.points {
			for d, r := range a.bounds {
				for _, sign := range [2]float64{-1, 1} {
					c := p.Clone()
					c[d] += sign * eps * r.Width()
					if c[d] < r.Min || c[d] > r.Max {
						continue
					}
					raw = append(raw, c)
				}
			}
		}
	}
	for i := 0; i < a.opts.InjectBatch; i++ {
		raw = append(raw, a.bounds.Denormalize(a.sampler.Next()))
	}

	ix := newIndex(a.bounds, ps.points)
	out := raw[:0]
	for _, c := range raw {
		u := a.bounds.Normalize(c)
		if ix.nearest(u) < a.opts.MinDistance {
			continue
		}
		ix.insert(unitPoint{u: u, idx: -1})
		out = append(out, c)
	}
	return out
}

// inject 并行评估候选点，仅准入使混合目标函数提升超过阈值的点（权重为0）
func (a *Adapter) inject(ps pointSet, eps float64, rep *Report) pointSet {
	cands := a.candidates(ps, eps)
	rep.Candidates = len(cands)
	if len(cands) == 0 {
		return ps
	}
	pyl := ps.mixture()
	type scored struct {
		col  []float64
		gain float64
	}
	scores := parallel.Map(a.pool, len(cands), func(c int) scored {
		col := a.column(cands[c])
		return scored{col: col, gain: Improvement(pyl, col)}
	})
	for c, s := range scores {
		if s.gain > a.opts.Margin {
			ps.points = append(ps.points, cands[c])
			ps.weights = append(ps.weights, 0)
			ps.cols = append(ps.cols, s.col)
			rep.Injected++
		}
	}
	return ps
}

// Improvement 向当前混合中加入一个点所能带来的最大目标函数提升
//
//	max_{α∈[0,1]} Σ log((1-α)·pyl_i + α·ψ_i) - Σ log pyl_i
//
// 目标关于 α 是凹函数，在导数上二分求解
func Improvement(pyl, psi []float64) float64 {
	deriv := func(alpha float64) float64 {
		var s float64
		for i, p := range pyl {
			s += (psi[i] - p) / (p + alpha*(psi[i]-p))
		}
		return s
	}
	value := func(alpha float64) float64 {
		var s float64
		for i, p := range pyl {
			s += math.Log(p+alpha*(psi[i]-p)) - math.Log(p)
		}
		return s
	}
	if d := deriv(0); d <= 0 || math.IsNaN(d) {
		return 0
	}
	if deriv(1) >= 0 {
		return value(1)
	}
	lo, hi := 0.0, 1.0
	for it := 0; it < bisectIterations; it++ {
		mid := (lo + hi) / 2
		if deriv(mid) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	return value((lo + hi) / 2)
}
