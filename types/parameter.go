package types

import (
	"encoding/binary"
	"hash/maphash"
	"math"
)

// ParameterVector 参数向量，值语义
type ParameterVector []float64

var paramSeed = maphash.MakeSeed()

// Clone 深拷贝
func (p ParameterVector) Clone() ParameterVector {
	return append(ParameterVector(nil), p...)
}

// Equal 按位比较（缓存同一性检查使用）
func (p ParameterVector) Equal(o ParameterVector) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if math.Float64bits(p[i]) != math.Float64bits(o[i]) {
			return false
		}
	}
	return true
}

// Hash 基于浮点位模式的哈希，仅在进程内有效
func (p ParameterVector) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(paramSeed)
	var buf [8]byte
	for _, v := range p {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return h.Sum64()
}

// Finite 所有分量均为有限值
func (p ParameterVector) Finite() bool {
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Range 单个参数的取值范围
type Range struct {
	Name string  `json:"name" yaml:"name" mapstructure:"name"`
	Min  float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max  float64 `json:"max" yaml:"max" mapstructure:"max"`
}

// Width 区间宽度
func (r Range) Width() float64 { return r.Max - r.Min }

// Bounds 参数空间（有序）
type Bounds []Range

// Dims 维度
func (b Bounds) Dims() int { return len(b) }

// Names 参数名称
func (b Bounds) Names() []string {
	names := make([]string, len(b))
	for i, r := range b {
		names[i] = r.Name
	}
	return names
}

// Contains 判断点是否在闭区间内
func (b Bounds) Contains(p ParameterVector) bool {
	if len(p) != len(b) {
		return false
	}
	for i, r := range b {
		if p[i] < r.Min || p[i] > r.Max {
			return false
		}
	}
	return true
}

// Clamp 投影到参数空间
func (b Bounds) Clamp(p ParameterVector) ParameterVector {
	out := p.Clone()
	for i, r := range b {
		out[i] = math.Max(r.Min, math.Min(r.Max, out[i]))
	}
	return out
}

// Normalize 映射到单位超立方体
func (b Bounds) Normalize(p ParameterVector) []float64 {
	u := make([]float64, len(b))
	for i, r := range b {
		u[i] = (p[i] - r.Min) / r.Width()
	}
	return u
}

// Denormalize 从单位超立方体映射回参数空间
func (b Bounds) Denormalize(u []float64) ParameterVector {
	p := make(ParameterVector, len(b))
	for i, r := range b {
		p[i] = r.Min + u[i]*r.Width()
	}
	return p
}

// Distance 归一化欧氏距离
func (b Bounds) Distance(p, q ParameterVector) float64 {
	var s float64
	for i, r := range b {
		d := (p[i] - q[i]) / r.Width()
		s += d * d
	}
	return math.Sqrt(s)
}
