package ode

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// 积分失败（单个受试者×支撑点范围内，由上层吸收为似然下限）
var (
	ErrNonFinite    = errors.New("状态出现 NaN/Inf")
	ErrStepBudget   = errors.New("超出最大积分步数")
	ErrStepTooSmall = errors.New("步长低于下限")
)

// Func 右端函数 dy = f(t, y)，dy 由调用方分配
type Func func(t float64, y, dy []float64)

// Method 积分方法
type Method int

const (
	MethodAdams Method = iota // 3阶Adams预测-校正（自适应步长）
	MethodRK4                 // 经典4阶Runge-Kutta（定步长）
)

// ParseMethod 解析方法名
func ParseMethod(name string) (Method, error) {
	switch strings.ToLower(name) {
	case "", "adams":
		return MethodAdams, nil
	case "rk4":
		return MethodRK4, nil
	}
	return 0, fmt.Errorf("未知积分方法: %s", name)
}

// String 方法名
func (m Method) String() string {
	if m == MethodRK4 {
		return "rk4"
	}
	return "adams"
}

// Options 积分器参数
type Options struct {
	Method      Method
	AbsTol      float64 // 绝对误差容差
	RelTol      float64 // 相对误差容差
	InitialStep float64 // 初始步长（RK4为固定步长）
	MinStep     float64 // 最小步长
	MaxStep     float64 // 最大步长
	MaxSteps    int     // 单次仿真的步数上限
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Method:      MethodAdams,
		AbsTol:      defaultAbsTol,
		RelTol:      defaultRelTol,
		InitialStep: 1e-3,
		MinStep:     minValidStep,
		MaxStep:     1,
		MaxSteps:    100000,
	}
}

// Validate 检查参数
func (o Options) Validate() error {
	if o.AbsTol <= 0 || o.RelTol <= 0 {
		return errors.New("容差必须大于0")
	}
	if o.InitialStep <= 0 || o.MinStep <= 0 || o.MaxStep <= o.MinStep {
		return errors.New("步长范围无效：需满足 0 < minStep < maxStep")
	}
	if o.MaxSteps <= 0 {
		return errors.New("最大时间步数必须大于0")
	}
	return nil
}

// Integrator 带状态的积分器，同一次仿真的多个分段共享步长与步数预算
// 非并发安全，每次仿真各自创建
type Integrator struct {
	opts  Options
	step  float64 // 跨分段保留的自适应步长
	steps int     // 已消耗步数（含被拒绝的步）
	dim   int

	// 3阶预测-校正历史：der[n], der[n-1], der[n-2]
	ders      [3][]float64
	predState []float64
	predDer   []float64
	corrState []float64

	// RK4 工作区
	k1, k2, k3, k4, tmp []float64
}

// New 创建积分器
func New(opts Options) *Integrator {
	return &Integrator{opts: opts, step: opts.InitialStep}
}

// Steps 已消耗步数
func (in *Integrator) Steps() int { return in.steps }

// Step 当前步长
func (in *Integrator) Step() float64 { return in.step }

func (in *Integrator) ensure(n int) {
	if in.dim == n {
		return
	}
	in.dim = n
	for i := range in.ders {
		in.ders[i] = make([]float64, n)
	}
	in.predState = make([]float64, n)
	in.predDer = make([]float64, n)
	in.corrState = make([]float64, n)
	in.k1 = make([]float64, n)
	in.k2 = make([]float64, n)
	in.k3 = make([]float64, n)
	in.k4 = make([]float64, n)
	in.tmp = make([]float64, n)
}

// Integrate 将 y 从 t0 积分到 t1（原地更新）
func (in *Integrator) Integrate(f Func, t0, t1 float64, y []float64) error {
	if t1 < t0 {
		return fmt.Errorf("积分区间无效: [%v, %v]", t0, t1)
	}
	if t1 == t0 || len(y) == 0 {
		return nil
	}
	in.ensure(len(y))
	if in.opts.Method == MethodRK4 {
		return in.integrateRK4(f, t0, t1, y)
	}
	return in.integrateAdams(f, t0, t1, y)
}

func (in *Integrator) count() error {
	in.steps++
	if in.steps > in.opts.MaxSteps {
		return ErrStepBudget
	}
	return nil
}

func finite(y []float64) bool {
	for _, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
