package ipm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// 算法常量
const (
	stepFraction = 0.99995 // 边界步长比例
	maxSigma     = 0.3     // 中心化参数上限
	maxBacktrack = 30      // 越界回退次数
)

// ErrCholesky Newton 系统分解失败
var ErrCholesky = errors.New("Newton 系统 Cholesky 分解失败")

// ZeroRowError 某受试者在全部支撑点的似然为零，属于数据/模型不匹配
type ZeroRowError struct {
	Row int
}

func (e *ZeroRowError) Error() string {
	return fmt.Sprintf("似然矩阵第%d行全为零", e.Row)
}

// Options 求解参数
type Options struct {
	Tolerance     float64 // μ、残差与对偶间隙的收敛阈值
	MaxIterations int
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{Tolerance: 1e-8, MaxIterations: 100}
}

// Result 求解结果
type Result struct {
	Weights    []float64 // 归一化权重（和为1）
	Objective  float64   // Σ log(Ψw)
	Iterations int
	Converged  bool
	Relaxed    bool // 是否经放宽容差重试
}

// Burke 原始-对偶内点法求解 max Σ log(Ψλ)，λ≥0
// 返回值中 err 仅在 Cholesky 失败时非空，此时 Result 为失败前最后一个可行迭代
func Burke(psi mat.Matrix, opts Options) (Result, error) {
	n, k := psi.Dims()
	a := mat.DenseCopyOf(psi)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			a.Set(i, j, math.Abs(a.At(i, j)))
		}
	}
	ecol := make([]float64, k)
	for j := range ecol {
		ecol[j] = 1
	}
	lam := append([]float64(nil), ecol...)
	plam := mulVec(a, lam)
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / plam[i]
	}
	ptw := mulTVec(a, w)
	shrink := 2 * floats.Max(ptw)
	floats.Scale(shrink, lam)
	floats.Scale(shrink, plam)
	floats.Scale(1/shrink, w)
	floats.Scale(1/shrink, ptw)
	y := make([]float64, k)
	for j := range y {
		y[j] = 1 - ptw[j]
	}
	r := residual(w, plam)
	mu := floats.Dot(lam, y) / float64(k)
	gap := dualityGap(w, plam)
	normR := floats.Norm(r, math.Inf(1))
	sig := 0.0
	eps := opts.Tolerance

	res := Result{}
	inner := make([]float64, k)
	smuy := make([]float64, k)
	rhs := mat.NewVecDense(n, nil)
	dwVec := mat.NewVecDense(n, nil)
	scaled := mat.NewDense(n, k, nil)
	h := mat.NewSymDense(n, nil)
	var chol mat.Cholesky

	for mu > eps || normR > eps || gap > eps {
		if res.Iterations >= opts.MaxIterations {
			res.Weights, res.Objective = finish(a, lam)
			return res, nil
		}
		res.Iterations++
		smu := sig * mu
		for j := 0; j < k; j++ {
			inner[j] = lam[j] / y[j]
			smuy[j] = smu / y[j]
		}
		// H = Ψ·diag(λ/y)·Ψᵀ + diag(Ψλ/w)
		for j := 0; j < k; j++ {
			s := math.Sqrt(inner[j])
			for i := 0; i < n; i++ {
				scaled.Set(i, j, a.At(i, j)*s)
			}
		}
		h.SymOuterK(1, scaled)
		for i := 0; i < n; i++ {
			h.SetSym(i, i, h.At(i, i)+plam[i]/w[i])
		}
		if ok := chol.Factorize(h); !ok {
			res.Weights, res.Objective = finish(a, lam)
			return res, ErrCholesky
		}
		psm := mulVec(a, smuy)
		for i := 0; i < n; i++ {
			rhs.SetVec(i, 1/w[i]-psm[i])
		}
		if err := chol.SolveVecTo(dwVec, rhs); err != nil {
			res.Weights, res.Objective = finish(a, lam)
			return res, ErrCholesky
		}
		dw := dwVec.RawVector().Data
		dy := mulTVec(a, dw)
		floats.Scale(-1, dy)
		dlam := make([]float64, k)
		for j := 0; j < k; j++ {
			dlam[j] = smuy[j] - lam[j] - inner[j]*dy[j]
		}
		alfpri := boundaryStep(dlam, lam)
		alfdual := math.Min(boundaryStep(dy, y), boundaryStep(dw, w))

		// 越界或非有限时回退步长
		nlam, nw, ny := make([]float64, k), make([]float64, n), make([]float64, k)
		ok := false
		for b := 0; b < maxBacktrack; b++ {
			floats.AddScaledTo(nlam, lam, alfpri, dlam)
			floats.AddScaledTo(nw, w, alfdual, dw)
			floats.AddScaledTo(ny, y, alfdual, dy)
			if positive(nlam) && positive(nw) && positive(ny) {
				ok = true
				break
			}
			alfpri /= 2
			alfdual /= 2
		}
		if !ok {
			res.Weights, res.Objective = finish(a, lam)
			return res, nil
		}
		lam, w, y = nlam, nw, ny

		mu = floats.Dot(lam, y) / float64(k)
		plam = mulVec(a, lam)
		r = residual(w, plam)
		normR = floats.Norm(r, math.Inf(1))
		if mu < eps && normR > eps {
			sig = 1
		} else {
			c := math.Max((1-alfpri)*(1-alfpri), (1-alfdual)*(1-alfdual))
			c = math.Max(c, (normR-mu)/(normR+100*mu))
			sig = math.Min(maxSigma, c)
		}
		gap = dualityGap(w, plam)
	}
	res.Converged = true
	res.Weights, res.Objective = finish(a, lam)
	return res, nil
}

// Optimize 带零行检查与一次放宽重试的求解入口
// 未收敛时返回最优迭代且 Converged=false，由调用方记录警告
func Optimize(psi mat.Matrix, opts Options) (Result, error) {
	n, k := psi.Dims()
	if n == 0 || k == 0 {
		return Result{}, fmt.Errorf("似然矩阵为空: %dx%d", n, k)
	}
	// 行缩放不改变最优权重，只改善 Newton 系统的条件数
	scaled := mat.NewDense(n, k, nil)
	for i := 0; i < n; i++ {
		m := 0.0
		for j := 0; j < k; j++ {
			m = math.Max(m, math.Abs(psi.At(i, j)))
		}
		if m == 0 {
			return Result{}, &ZeroRowError{Row: i}
		}
		for j := 0; j < k; j++ {
			scaled.Set(i, j, math.Abs(psi.At(i, j))/m)
		}
	}
	res, err := Burke(scaled, opts)
	if err == nil && res.Converged {
		res.Objective = objective(psi, res.Weights)
		return res, nil
	}
	relaxed := Options{Tolerance: opts.Tolerance * 100, MaxIterations: opts.MaxIterations * 2}
	retry, rerr := Burke(scaled, relaxed)
	retry.Relaxed = true
	if rerr == nil && retry.Converged {
		retry.Objective = objective(psi, retry.Weights)
		return retry, nil
	}
	// 两次均未收敛：返回目标函数更高的迭代
	best := res
	if validWeights(retry.Weights) && (!validWeights(res.Weights) || retry.Objective > res.Objective) {
		best = retry
	}
	best.Converged = false
	if !validWeights(best.Weights) {
		return best, fmt.Errorf("权重优化失败: %w", errors.Join(err, rerr))
	}
	best.Objective = objective(psi, best.Weights)
	return best, nil
}

// objective 原始矩阵上的 Σ log(Ψw)
func objective(psi mat.Matrix, w []float64) float64 {
	return finishObjective(mat.DenseCopyOf(psi), w)
}

// ------------------------------
// 辅助函数
// ------------------------------

func mulVec(a *mat.Dense, x []float64) []float64 {
	n, _ := a.Dims()
	out := mat.NewVecDense(n, nil)
	out.MulVec(a, mat.NewVecDense(len(x), x))
	return out.RawVector().Data
}

func mulTVec(a *mat.Dense, x []float64) []float64 {
	_, k := a.Dims()
	out := mat.NewVecDense(k, nil)
	out.MulVec(a.T(), mat.NewVecDense(len(x), x))
	return out.RawVector().Data
}

func residual(w, plam []float64) []float64 {
	r := make([]float64, len(w))
	for i := range w {
		r[i] = 1 - w[i]*plam[i]
	}
	return r
}

func dualityGap(w, plam []float64) float64 {
	var sw, sp float64
	for i := range w {
		sw += math.Log(w[i])
		sp += math.Log(plam[i])
	}
	return math.Abs(sw+sp) / (1 + math.Abs(sp))
}

// boundaryStep 保持 x + α·dx > 0 的最大步长（乘以 stepFraction，且不超过1）
func boundaryStep(dx, x []float64) float64 {
	m := -0.5
	for i := range dx {
		if v := dx[i] / x[i]; v < m {
			m = v
		}
	}
	return math.Min(1, stepFraction*(-1/m))
}

func positive(x []float64) bool {
	for _, v := range x {
		if !(v > 0) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func validWeights(w []float64) bool {
	if len(w) == 0 {
		return false
	}
	for _, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// finish 归一化权重并计算目标函数
func finish(a *mat.Dense, lam []float64) ([]float64, float64) {
	w := append([]float64(nil), lam...)
	s := floats.Sum(w)
	if !(s > 0) || math.IsInf(s, 0) {
		for j := range w {
			w[j] = 1 / float64(len(w))
		}
	} else {
		floats.Scale(1/s, w)
	}
	return w, finishObjective(a, w)
}

func finishObjective(a *mat.Dense, w []float64) float64 {
	var obj float64
	for _, v := range mulVec(a, w) {
		obj += math.Log(v)
	}
	return obj
}
