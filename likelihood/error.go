package likelihood

import (
	"fmt"
	"strings"
)

// ErrorModel 观测误差模型：给出观测值对应的标准差
type ErrorModel interface {
	Sigma(obs float64) float64
	Gamma() float64
	WithGamma(g float64) ErrorModel
}

// Class 误差模型类别
type Class string

const (
	ClassAdditive     Class = "additive"     // σ = poly(y) + γ
	ClassProportional Class = "proportional" // σ = poly(y) · γ
)

// Poly 误差多项式系数 c0 + c1*y + c2*y^2 + c3*y^3
type Poly [4]float64

// Eval 在观测值处求值
func (p Poly) Eval(y float64) float64 {
	return p[0] + y*(p[1]+y*(p[2]+y*p[3]))
}

// Additive 加性误差
type Additive struct {
	Poly  Poly
	Scale float64
}

// Sigma 标准差
func (a Additive) Sigma(obs float64) float64 { return a.Poly.Eval(obs) + a.Scale }

// Gamma 当前缩放
func (a Additive) Gamma() float64 { return a.Scale }

// WithGamma 替换缩放
func (a Additive) WithGamma(g float64) ErrorModel { return Additive{Poly: a.Poly, Scale: g} }

// Proportional 比例误差
type Proportional struct {
	Poly  Poly
	Scale float64
}

// Sigma 标准差
func (p Proportional) Sigma(obs float64) float64 { return p.Poly.Eval(obs) * p.Scale }

// Gamma 当前缩放
func (p Proportional) Gamma() float64 { return p.Scale }

// WithGamma 替换缩放
func (p Proportional) WithGamma(g float64) ErrorModel { return Proportional{Poly: p.Poly, Scale: g} }

// NewErrorModel 按类别构建误差模型
func NewErrorModel(class string, poly Poly, gamma float64) (ErrorModel, error) {
	switch Class(strings.ToLower(class)) {
	case ClassAdditive:
		return Additive{Poly: poly, Scale: gamma}, nil
	case ClassProportional:
		return Proportional{Poly: poly, Scale: gamma}, nil
	}
	return nil, fmt.Errorf("未知误差模型: %s", class)
}
