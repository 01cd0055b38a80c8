package grid

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"npag/types"
)

// pointSet 调整过程中的支撑点集合，同时携带每个点的似然列
type pointSet struct {
	points  []types.ParameterVector
	weights []float64
	cols    [][]float64 // cols[j][i] = Ψij
}

func fromPsi(g types.Grid, psi *mat.Dense) pointSet {
	_, k := psi.Dims()
	ps := pointSet{
		points:  make([]types.ParameterVector, k),
		weights: make([]float64, k),
		cols:    make([][]float64, k),
	}
	for j := 0; j < k; j++ {
		ps.points[j] = g[j].Params
		ps.weights[j] = g[j].Weight
		ps.cols[j] = mat.Col(nil, j, psi)
	}
	return ps
}

func (ps pointSet) len() int { return len(ps.points) }

func (ps pointSet) subset(idx []int) pointSet {
	out := pointSet{
		points:  make([]types.ParameterVector, len(idx)),
		weights: make([]float64, len(idx)),
		cols:    make([][]float64, len(idx)),
	}
	for i, j := range idx {
		out.points[i] = ps.points[j]
		out.weights[i] = ps.weights[j]
		out.cols[i] = ps.cols[j]
	}
	return out
}

func (ps pointSet) psi() *mat.Dense {
	k := len(ps.cols)
	n := len(ps.cols[0])
	m := mat.NewDense(n, k, nil)
	for j, col := range ps.cols {
		m.SetCol(j, col)
	}
	return m
}

// mixture 每个受试者的混合似然 Σj Ψij·wj
func (ps pointSet) mixture() []float64 {
	if len(ps.cols) == 0 {
		return nil
	}
	pyl := make([]float64, len(ps.cols[0]))
	for j, col := range ps.cols {
		w := ps.weights[j]
		for i, v := range col {
			pyl[i] += w * v
		}
	}
	return pyl
}

func (ps pointSet) objective() float64 {
	var s float64
	for _, v := range ps.mixture() {
		s += math.Log(v)
	}
	return s
}

func (ps pointSet) grid() types.Grid {
	g := make(types.Grid, len(ps.points))
	for j := range ps.points {
		g[j] = types.SupportPoint{Params: ps.points[j], Weight: ps.weights[j]}
	}
	return g
}

// ------------------------------
// kd树（归一化坐标）
// ------------------------------

// unitPoint 单位超立方体中的点
type unitPoint struct {
	u   []float64
	idx int
}

// Compare 实现 kdtree.Comparable
func (p unitPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p.u[d] - c.(unitPoint).u[d]
}

// Dims 维度
func (p unitPoint) Dims() int { return len(p.u) }

// Distance 欧氏距离的平方
func (p unitPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(unitPoint)
	var s float64
	for i := range p.u {
		d := p.u[i] - q.u[i]
		s += d * d
	}
	return s
}

// unitPoints 实现 kdtree.Interface
type unitPoints []unitPoint

func (p unitPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p unitPoints) Len() int                              { return len(p) }
func (p unitPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

// Pivot 实现 kdtree.Interface
func (p unitPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(unitPlane{unitPoints: p, Dim: d}, kdtree.MedianOfRandoms(unitPlane{unitPoints: p, Dim: d}, 100))
}

// unitPlane 实现 sort.Interface 与 kdtree.SortSlicer
type unitPlane struct {
	unitPoints
	kdtree.Dim
}

func (p unitPlane) Less(i, j int) bool {
	return p.unitPoints[i].u[p.Dim] < p.unitPoints[j].u[p.Dim]
}

func (p unitPlane) Slice(start, end int) kdtree.SortSlicer {
	return unitPlane{unitPoints: p.unitPoints[start:end], Dim: p.Dim}
}

func (p unitPlane) Swap(i, j int) {
	p.unitPoints[i], p.unitPoints[j] = p.unitPoints[j], p.unitPoints[i]
}

// index 支撑点的空间索引，用于最小距离查询
type index struct {
	tree *kdtree.Tree
}

func newIndex(bounds types.Bounds, points []types.ParameterVector) *index {
	ups := make(unitPoints, len(points))
	for i, p := range points {
		ups[i] = unitPoint{u: bounds.Normalize(p), idx: i}
	}
	if len(ups) == 0 {
		return &index{}
	}
	return &index{tree: kdtree.New(ups, false)}
}

func (ix *index) insert(p unitPoint) {
	if ix.tree == nil {
		ix.tree = kdtree.New(unitPoints{p}, false)
		return
	}
	ix.tree.Insert(p, false)
}

// nearest 最近点的归一化距离，空索引返回 +Inf
func (ix *index) nearest(u []float64) float64 {
	if ix.tree == nil {
		return math.Inf(1)
	}
	c, d := ix.tree.Nearest(unitPoint{u: u})
	if c == nil {
		return math.Inf(1)
	}
	return math.Sqrt(d)
}

// within 距离小于 r 的点的下标
func (ix *index) within(u []float64, r float64) []int {
	if ix.tree == nil || r <= 0 {
		return nil
	}
	keeper := kdtree.NewDistKeeper(r * r)
	ix.tree.NearestSet(keeper, unitPoint{u: u})
	var out []int
	for _, c := range keeper.Heap {
		if c.Comparable == nil || c.Dist >= r*r {
			continue
		}
		out = append(out, c.Comparable.(unitPoint).idx)
	}
	return out
}
