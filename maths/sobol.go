package maths

import (
	"fmt"
	"math/rand/v2"
)

const sobolBits = 32

// direction 本原多项式参数：次数s、系数a、初始方向数m（Joe-Kuo）
type direction struct {
	s int
	a uint32
	m []uint32
}

// 第2~21维的方向数，第1维为 m_i = 1
var sobolDirections = []direction{
	{1, 0, []uint32{1}},
	{2, 1, []uint32{1, 3}},
	{3, 1, []uint32{1, 3, 1}},
	{3, 2, []uint32{1, 1, 1}},
	{4, 1, []uint32{1, 1, 3, 3}},
	{4, 4, []uint32{1, 3, 5, 13}},
	{5, 2, []uint32{1, 1, 5, 5, 17}},
	{5, 4, []uint32{1, 1, 5, 5, 5}},
	{5, 7, []uint32{1, 1, 7, 11, 19}},
	{5, 11, []uint32{1, 1, 5, 1, 1}},
	{5, 13, []uint32{1, 1, 1, 3, 11}},
	{5, 14, []uint32{1, 3, 5, 5, 31}},
	{6, 1, []uint32{1, 3, 3, 9, 7, 49}},
	{6, 13, []uint32{1, 1, 1, 15, 21, 21}},
	{6, 16, []uint32{1, 3, 1, 13, 27, 49}},
	{6, 19, []uint32{1, 1, 1, 15, 7, 5}},
	{6, 22, []uint32{1, 3, 1, 15, 13, 25}},
	{6, 25, []uint32{1, 1, 5, 5, 19, 61}},
	{7, 1, []uint32{1, 3, 7, 11, 23, 15, 103}},
	{7, 4, []uint32{1, 3, 7, 13, 13, 15, 69}},
}

// MaxSobolDims 支持的最大维度
var MaxSobolDims = len(sobolDirections) + 1

// Sobol 带随机数字移位的Sobol低差异序列
// 序列跨多次调用持续推进，每批新点都填补已有点之间的空隙
type Sobol struct {
	dims  int
	v     [][sobolBits]uint32
	x     []uint32
	shift []uint32
	index uint64
}

// NewSobol 创建生成器
// 参数:
//
//	dims - 维度（1 ~ MaxSobolDims）
//	seed - 数字移位的随机种子
func NewSobol(dims int, seed uint64) (*Sobol, error) {
	if dims < 1 || dims > MaxSobolDims {
		return nil, fmt.Errorf("sobol dimension must be in [1, %d], got %d", MaxSobolDims, dims)
	}
	s := &Sobol{
		dims:  dims,
		v:     make([][sobolBits]uint32, dims),
		x:     make([]uint32, dims),
		shift: make([]uint32, dims),
	}
	for i := 0; i < sobolBits; i++ {
		s.v[0][i] = 1 << (sobolBits - 1 - i)
	}
	for d := 1; d < dims; d++ {
		dir := sobolDirections[d-1]
		for i := 0; i < dir.s && i < sobolBits; i++ {
			s.v[d][i] = dir.m[i] << (sobolBits - 1 - i)
		}
		for i := dir.s; i < sobolBits; i++ {
			val := s.v[d][i-dir.s] ^ (s.v[d][i-dir.s] >> dir.s)
			for k := 1; k < dir.s; k++ {
				if (dir.a>>(dir.s-1-k))&1 == 1 {
					val ^= s.v[d][i-k]
				}
			}
			s.v[d][i] = val
		}
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	for d := range s.shift {
		s.shift[d] = rng.Uint32()
	}
	return s, nil
}

// Dims 维度
func (s *Sobol) Dims() int { return s.dims }

// Next 下一个点（单位超立方体内）
func (s *Sobol) Next() []float64 {
	// 格雷码：翻转 index 最低位0所在的方向数
	c := 0
	for n := s.index; n&1 == 1; n >>= 1 {
		c++
	}
	s.index++
	if c >= sobolBits {
		c = sobolBits - 1
	}
	out := make([]float64, s.dims)
	for d := 0; d < s.dims; d++ {
		s.x[d] ^= s.v[d][c]
		out[d] = (float64(s.x[d]^s.shift[d]) + 0.5) / (1 << sobolBits)
	}
	return out
}

// Batch 连续生成n个点
func (s *Sobol) Batch(n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}
