package types

import "math"

// SupportPoint 支撑点：参数向量与概率权重
type SupportPoint struct {
	Params ParameterVector `json:"params"`
	Weight float64         `json:"weight"`
}

// Grid 支撑点集合
type Grid []SupportPoint

// NewGrid 以均匀权重构建网格
func NewGrid(points []ParameterVector) Grid {
	g := make(Grid, len(points))
	for i, p := range points {
		g[i] = SupportPoint{Params: p, Weight: 1 / float64(len(points))}
	}
	return g
}

// Len 点数
func (g Grid) Len() int { return len(g) }

// Points 参数向量列表
func (g Grid) Points() []ParameterVector {
	ps := make([]ParameterVector, len(g))
	for i, sp := range g {
		ps[i] = sp.Params
	}
	return ps
}

// Weights 权重列表
func (g Grid) Weights() []float64 {
	w := make([]float64, len(g))
	for i, sp := range g {
		w[i] = sp.Weight
	}
	return w
}

// SetWeights 写入权重
func (g Grid) SetWeights(w []float64) {
	for i := range g {
		g[i].Weight = w[i]
	}
}

// TotalWeight 权重和
func (g Grid) TotalWeight() float64 {
	var s float64
	for _, sp := range g {
		s += sp.Weight
	}
	return s
}

// Normalize 权重归一化，全零时退化为均匀分布
func (g Grid) Normalize() {
	s := g.TotalWeight()
	if s <= 0 {
		for i := range g {
			g[i].Weight = 1 / float64(len(g))
		}
		return
	}
	for i := range g {
		g[i].Weight /= s
	}
}

// Valid 权重非负且和为1
func (g Grid) Valid(tol float64) bool {
	for _, sp := range g {
		if sp.Weight < 0 || math.IsNaN(sp.Weight) {
			return false
		}
	}
	return math.Abs(g.TotalWeight()-1) <= tol
}

// Clone 深拷贝
func (g Grid) Clone() Grid {
	out := make(Grid, len(g))
	for i, sp := range g {
		out[i] = SupportPoint{Params: sp.Params.Clone(), Weight: sp.Weight}
	}
	return out
}

// SamePoints 两个网格的参数点完全一致（忽略权重）
func (g Grid) SamePoints(o Grid) bool {
	if len(g) != len(o) {
		return false
	}
	for i := range g {
		if !g[i].Params.Equal(o[i].Params) {
			return false
		}
	}
	return true
}
