package maths

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// PivotedQR 列主元Householder QR分解（AP = QR）
// 用于按秩识别似然矩阵中线性相关的列
type PivotedQR struct {
	m, n     int
	R        *mat.Dense // 上三角因子（min(m,n)×n，已按P置换）
	P        []int      // 置换向量：P[i] = 分解后第i列对应的原始列索引
}

// NewPivotedQR 执行分解
// 参数:
//
//	a - 输入矩阵（m×n，任意形状）
//
// 返回:
//
//	分解结果，错误信息（空矩阵）
func NewPivotedQR(a mat.Matrix) (*PivotedQR, error) {
	m, n := a.Dims()
	if m < 1 || n < 1 {
		return nil, errors.New("qr dimension must be positive")
	}
	qr := &PivotedQR{
		m: m,
		n: n,
		P: make([]int, n),
	}
	for j := 0; j < n; j++ {
		qr.P[j] = j
	}
	work := mat.DenseCopyOf(a)
	lim := min(m, n)
	v := make([]float64, m)
	for k := 0; k < lim; k++ {
		// 步骤1：选取剩余子矩阵中范数最大的列作为主元
		best, bestNorm := k, -1.0
		for j := k; j < n; j++ {
			if s := subColNorm2(work, k, j); s > bestNorm {
				best, bestNorm = j, s
			}
		}
		if best != k {
			swapCols(work, k, best)
			qr.updatePermutation(k, best)
		}
		// 步骤2：构造Householder反射 H = I - 2vvᵀ/(vᵀv)
		norm := math.Sqrt(bestNorm)
		if norm == 0 {
			continue
		}
		akk := work.At(k, k)
		alpha := -norm
		if akk < 0 {
			alpha = norm
		}
		vnorm2 := 0.0
		for i := k; i < m; i++ {
			v[i] = work.At(i, k)
		}
		v[k] -= alpha
		for i := k; i < m; i++ {
			vnorm2 += v[i] * v[i]
		}
		if vnorm2 == 0 {
			continue
		}
		// 步骤3：作用于剩余列
		for j := k + 1; j < n; j++ {
			dot := 0.0
			for i := k; i < m; i++ {
				dot += v[i] * work.At(i, j)
			}
			f := 2 * dot / vnorm2
			for i := k; i < m; i++ {
				work.Set(i, j, work.At(i, j)-f*v[i])
			}
		}
		work.Set(k, k, alpha)
		for i := k + 1; i < m; i++ {
			work.Set(i, k, 0)
		}
	}
	qr.R = mat.NewDense(lim, n, nil)
	for i := 0; i < lim; i++ {
		for j := i; j < n; j++ {
			qr.R.Set(i, j, work.At(i, j))
		}
	}
	return qr, nil
}

// updatePermutation 交换置换向量
func (qr *PivotedQR) updatePermutation(k, p int) {
	qr.P[k], qr.P[p] = qr.P[p], qr.P[k]
}

// Independent 判定线性无关的原始列
// 参数:
//
//	tol - |R_ii| / ||R[:,i]|| 的下限
//
// 返回:
//
//	保留的原始列索引（按主元顺序）
func (qr *PivotedQR) Independent(tol float64) []int {
	lim := min(qr.m, qr.n)
	keep := make([]int, 0, lim)
	for i := 0; i < lim; i++ {
		var s float64
		for r := 0; r <= i; r++ {
			v := qr.R.At(r, i)
			s += v * v
		}
		if s == 0 {
			continue
		}
		if math.Abs(qr.R.At(i, i))/math.Sqrt(s) >= tol {
			keep = append(keep, qr.P[i])
		}
	}
	return keep
}

func subColNorm2(a *mat.Dense, from, col int) float64 {
	m, _ := a.Dims()
	var s float64
	for i := from; i < m; i++ {
		v := a.At(i, col)
		s += v * v
	}
	return s
}

func swapCols(a *mat.Dense, i, j int) {
	m, _ := a.Dims()
	for r := 0; r < m; r++ {
		vi, vj := a.At(r, i), a.At(r, j)
		a.Set(r, i, vj)
		a.Set(r, j, vi)
	}
}
