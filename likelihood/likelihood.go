package likelihood

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"npag/types"
)

var logSqrt2Pi = 0.5 * math.Log(2*math.Pi)

// Evaluator 似然计算器
type Evaluator struct {
	Errors ErrorModel
	Floor  float64 // 似然下限
}

// New 创建似然计算器
func New(em ErrorModel, floor float64) *Evaluator {
	if floor <= 0 {
		floor = types.LikelihoodFloor
	}
	return &Evaluator{Errors: em, Floor: floor}
}

// WithGamma 使用新误差缩放的副本
func (e *Evaluator) WithGamma(g float64) *Evaluator {
	return &Evaluator{Errors: e.Errors.WithGamma(g), Floor: e.Floor}
}

// LogLikelihood 正态误差下的对数似然
func (e *Evaluator) LogLikelihood(s *types.Subject, values []float64) float64 {
	var ll float64
	for i, o := range s.Observations {
		sigma := e.Errors.Sigma(o.Value)
		if !(sigma > 0) {
			return math.Inf(-1)
		}
		r := (o.Value - values[i]) / sigma
		ll += -0.5*r*r - math.Log(sigma) - logSqrt2Pi
	}
	return ll
}

// Density 单元格似然：失败或维度不符取下限，NaN 原样返回供损坏检查
func (e *Evaluator) Density(s *types.Subject, p types.Prediction) float64 {
	if p.Failed() || len(p.Values) != len(s.Observations) {
		return e.Floor
	}
	ll := e.LogLikelihood(s, p.Values)
	if math.IsNaN(ll) {
		return ll
	}
	d := math.Exp(ll)
	if d < e.Floor {
		return e.Floor
	}
	return d
}

// Column 单个支撑点在全部受试者上的似然
func (e *Evaluator) Column(subjects []*types.Subject, preds []types.Prediction) []float64 {
	col := make([]float64, len(subjects))
	for i, s := range subjects {
		col[i] = e.Density(s, preds[i])
	}
	return col
}

// Psi 组装似然矩阵（受试者×支撑点），preds[i][j] 为受试者i在点j的预测
func (e *Evaluator) Psi(subjects []*types.Subject, preds [][]types.Prediction) (*mat.Dense, error) {
	n := len(subjects)
	if n == 0 || len(preds) != n {
		return nil, fmt.Errorf("%w: 预测行数 %d 与受试者数 %d 不一致", types.ErrInternal, len(preds), n)
	}
	k := len(preds[0])
	if k == 0 {
		return nil, fmt.Errorf("%w: 网格为空", types.ErrInternal)
	}
	psi := mat.NewDense(n, k, nil)
	for i, s := range subjects {
		if len(preds[i]) != k {
			return nil, fmt.Errorf("%w: 第%d行预测列数 %d 不等于 %d", types.ErrInternal, i, len(preds[i]), k)
		}
		for j, p := range preds[i] {
			psi.Set(i, j, e.Density(s, p))
		}
	}
	return psi, nil
}

// ------------------------------
// 矩阵检查与派生量
// ------------------------------

// Unexplained 所有支撑点似然均处于下限的受试者行
func Unexplained(psi mat.Matrix, floor float64) []int {
	r, c := psi.Dims()
	var rows []int
	for i := 0; i < r; i++ {
		explained := false
		for j := 0; j < c; j++ {
			if psi.At(i, j) > floor {
				explained = true
				break
			}
		}
		if !explained {
			rows = append(rows, i)
		}
	}
	return rows
}

// CheckFinite 返回第一个非有限单元格位置
func CheckFinite(psi mat.Matrix) (row, col int, ok bool) {
	r, c := psi.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := psi.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return i, j, false
			}
		}
	}
	return -1, -1, true
}

// Mixture 每个受试者的混合似然 Ψw
func Mixture(psi mat.Matrix, w []float64) []float64 {
	r, _ := psi.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(psi, mat.NewVecDense(len(w), append([]float64(nil), w...)))
	return out.RawVector().Data
}

// Objective 总体对数似然 Σ log(Ψw)
func Objective(psi mat.Matrix, w []float64) float64 {
	pyl := Mixture(psi, w)
	for i, v := range pyl {
		pyl[i] = math.Log(v)
	}
	return floats.Sum(pyl)
}

// Posterior 后验权重：受试者i在点j的概率 Ψij·wj / Σl Ψil·wl
func Posterior(psi mat.Matrix, w []float64) [][]float64 {
	r, c := psi.Dims()
	pyl := Mixture(psi, w)
	post := make([][]float64, r)
	for i := 0; i < r; i++ {
		post[i] = make([]float64, c)
		if pyl[i] <= 0 {
			continue
		}
		for j := 0; j < c; j++ {
			post[i][j] = psi.At(i, j) * w[j] / pyl[i]
		}
	}
	return post
}
