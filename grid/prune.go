package grid

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/floats"

	"npag/ipm"
	"npag/maths"
	"npag/types"
)

// prune 剪除低权重点，可选QR压缩，然后在剩余点上重优化权重
func (a *Adapter) prune(ps pointSet, rep *Report) (pointSet, error) {
	limit := a.opts.PruneThreshold * floats.Max(ps.weights)
	keep := make([]int, 0, ps.len())
	for j, w := range ps.weights {
		if w >= limit {
			keep = append(keep, j)
		}
	}
	rep.Pruned = ps.len() - len(keep)
	ps = ps.subset(keep)

	if a.opts.Condense && ps.len() > 1 {
		idx, err := condense(ps, a.opts.CondenseTolerance)
		if err != nil {
			return ps, err
		}
		rep.Condensed = ps.len() - len(idx)
		ps = ps.subset(idx)
	}

	res, err := ipm.Optimize(ps.psi(), a.opts.IPM)
	if err != nil {
		return ps, fmt.Errorf("剪枝后权重优化: %w", err)
	}
	if !res.Converged {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("剪枝后权重优化未收敛 (%d 次迭代)", res.Iterations))
	}
	ps.weights = res.Weights
	rep.Objective = res.Objective
	return ps, nil
}

// condense 对行归一化的Ψ做列主元QR，返回线性无关的列（升序）
func condense(ps pointSet, tol float64) ([]int, error) {
	m := ps.psi()
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		row := m.RawRowView(i)
		if s := floats.Sum(row); s > 0 {
			floats.Scale(1/s, row)
		}
	}
	qr, err := maths.NewPivotedQR(m)
	if err != nil {
		return nil, fmt.Errorf("%w: 秩压缩: %v", types.ErrInternal, err)
	}
	idx := qr.Independent(tol)
	if len(idx) == 0 {
		// 全零矩阵不可能出现（有下限），保底保留最重的点
		idx = []int{floats.MaxIdx(ps.weights)}
	}
	slices.Sort(idx)
	return idx, nil
}
