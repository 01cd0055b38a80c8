package parallel

import (
	"runtime"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"
)

// Pool 固定并行度的执行层
// 每个工作单元只写自己的结果槽位，阶段之间以 Wait 作为屏障
type Pool struct {
	workers int
}

// New 创建执行层，workers<=0 时取CPU核数
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{workers: workers}
}

// Workers 并行度
func (p *Pool) Workers() int { return p.workers }

// ForEach 对 [0,n) 并行执行 fn，全部完成后返回第一个错误
// 单元内部失败应自行吸收，返回错误仅用于内部不变量被破坏的情况
func (p *Pool) ForEach(n int, fn func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error { return fn(i) })
	}
	return g.Wait()
}

// Map 对 [0,n) 并行求值，结果按下标排列
func Map[T any](p *Pool, n int, fn func(i int) T) []T {
	out := make([]T, n)
	if n == 0 {
		return out
	}
	wp := pool.New().WithMaxGoroutines(p.workers)
	for i := 0; i < n; i++ {
		wp.Go(func() { out[i] = fn(i) })
	}
	wp.Wait()
	return out
}
