package grid

import (
	"sort"
)

// merge 将距离小于最小距离的点并入较重的点，权重精确相加
func (a *Adapter) merge(ps pointSet, rep *Report) pointSet {
	if a.opts.MinDistance <= 0 || ps.len() < 2 {
		return ps
	}
	order := make([]int, ps.len())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool { return ps.weights[order[x]] > ps.weights[order[y]] })

	ix := newIndex(a.bounds, ps.points)
	removed := make([]bool, ps.len())
	for _, j := range order {
		if removed[j] {
			continue
		}
		for _, l := range ix.within(a.bounds.Normalize(ps.points[j]), a.opts.MinDistance) {
			if l == j || removed[l] {
				continue
			}
			ps.weights[j] += ps.weights[l]
			removed[l] = true
			rep.Merged++
		}
	}
	if rep.Merged == 0 {
		return ps
	}
	keep := make([]int, 0, ps.len()-rep.Merged)
	for j := range removed {
		if !removed[j] {
			keep = append(keep, j)
		}
	}
	return ps.subset(keep)
}
