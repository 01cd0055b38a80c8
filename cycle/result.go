package cycle

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"npag/likelihood"
	"npag/types"
)

// result 由最优检查点组装结果
func (c *Controller) result(reason types.Reason, incomplete bool) *types.Result {
	res := &types.Result{
		RunID:      c.runID,
		Model:      c.modelName,
		ParamNames: c.bounds.Names(),
		SubjectIDs: make([]string, len(c.subjects)),
		Reason:     reason,
		Cycles:     c.state.Cycle,
		Incomplete: incomplete,
		Gamma:      c.state.Gamma,
		Warnings:   append([]string(nil), c.state.Warnings...),
		History:    append([]types.Snapshot(nil), c.snapshots...),
	}
	for i, s := range c.subjects {
		res.SubjectIDs[i] = s.ID
	}
	cp := c.best
	if cp == nil {
		g := c.state.Grid.Clone()
		g.Normalize()
		res.Grid = g
		res.Warnings = append(res.Warnings, "未完成任何循环")
		return res
	}
	g := cp.grid.Clone()
	res.Grid = g
	res.Objective = cp.objective
	res.Neg2LL = -2 * cp.objective
	res.Gamma = cp.gamma
	res.Posterior = likelihood.Posterior(cp.psi, g.Weights())
	res.PosteriorMeans = PosteriorMeans(res.Posterior, g)
	res.Summary = Summarize(c.bounds.Names(), g)
	return res
}

// PosteriorMeans 每个受试者的后验参数均值
func PosteriorMeans(post [][]float64, g types.Grid) [][]float64 {
	out := make([][]float64, len(post))
	for i, row := range post {
		means := make([]float64, 0)
		if len(g) > 0 {
			means = make([]float64, len(g[0].Params))
		}
		for j, p := range row {
			for d, v := range g[j].Params {
				means[d] += p * v
			}
		}
		out[i] = means
	}
	return out
}

// Summarize 按权重计算每个参数的总体统计
func Summarize(names []string, g types.Grid) []types.ParamSummary {
	out := make([]types.ParamSummary, len(names))
	w := g.Weights()
	for d, name := range names {
		x := make([]float64, len(g))
		for j, sp := range g {
			x[j] = sp.Params[d]
		}
		ws := append([]float64(nil), w...)
		mean, variance := stat.PopMeanVariance(x, ws)
		stat.SortWeighted(x, ws)
		out[d] = types.ParamSummary{
			Name:   name,
			Mean:   mean,
			SD:     math.Sqrt(variance),
			Median: stat.Quantile(0.5, stat.Empirical, x, ws),
			Q25:    stat.Quantile(0.25, stat.Empirical, x, ws),
			Q75:    stat.Quantile(0.75, stat.Empirical, x, ws),
		}
	}
	return out
}
