package model

import (
	"fmt"
	"math"
	"sort"

	"npag/ode"
	"npag/types"
)

// Derivative 房室方程：dx = f(t, x)，rate 为各输入房室当前输注速率
type Derivative func(t float64, x, dx []float64, p types.ParameterVector, rate []float64, cov Covariates)

// Output 输出方程：返回第 outeq 个输出在 t 时刻的值
type Output func(t float64, x []float64, p types.ParameterVector, outeq int, cov Covariates) float64

// Lag 输入房室的给药延迟
type Lag func(p types.ParameterVector, input int) float64

// Covariates 在指定时刻取协变量
type Covariates struct {
	subject *types.Subject
	t       float64
}

// Get 协变量值，不存在时返回 def
func (c Covariates) Get(name string, def float64) float64 {
	if c.subject == nil {
		return def
	}
	if v, ok := c.subject.Covariates.At(name, c.t); ok {
		return v
	}
	return def
}

// ODE 以常微分方程定义的房室模型
type ODE struct {
	Name       string
	ParamNames []string
	States     int // 状态数（房室数）
	Inputs     int // 输入房室数（默认同 States）
	Outputs    int // 输出方程数
	Derive     Derivative
	Out        Output
	Lag        Lag // 可为空
	Solver     ode.Options
}

// Parameters 实现 Describer
func (m *ODE) Parameters() []string { return m.ParamNames }

// 事件类型，同一时刻按此顺序处理（先观测后给药）
type eventKind int

const (
	eventObserve eventKind = iota
	eventInfusionEnd
	eventInfusionStart
	eventBolus
)

type event struct {
	time   float64
	kind   eventKind
	input  int
	amount float64 // 推注剂量或输注速率
	obs    int     // 观测序号
}

// timeline 合并给药与观测事件
func (m *ODE) timeline(s *types.Subject, p types.ParameterVector) ([]event, error) {
	inputs := m.Inputs
	if inputs == 0 {
		inputs = m.States
	}
	events := make([]event, 0, len(s.Observations)+2*len(s.Doses))
	for i, o := range s.Observations {
		if o.OutEq >= m.Outputs {
			return nil, fmt.Errorf("受试者 %s 观测输出方程 %d 超出模型输出数 %d", s.ID, o.OutEq+1, m.Outputs)
		}
		events = append(events, event{time: o.Time, kind: eventObserve, obs: i})
	}
	for _, d := range s.Doses {
		if d.Input >= inputs {
			return nil, fmt.Errorf("受试者 %s 给药输入 %d 超出模型输入数 %d", s.ID, d.Input+1, inputs)
		}
		t := d.Time
		if m.Lag != nil {
			t += m.Lag(p, d.Input)
		}
		if d.Route == types.RouteInfusion && d.Duration > 0 {
			rate := d.Rate()
			events = append(events,
				event{time: t, kind: eventInfusionStart, input: d.Input, amount: rate},
				event{time: t + d.Duration, kind: eventInfusionEnd, input: d.Input, amount: rate})
			continue
		}
		events = append(events, event{time: t, kind: eventBolus, input: d.Input, amount: d.Amount})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].time != events[j].time {
			return events[i].time < events[j].time
		}
		return events[i].kind < events[j].kind
	})
	return events, nil
}

// Simulate 实现 Model：按事件时间线分段积分
func (m *ODE) Simulate(s *types.Subject, p types.ParameterVector) ([]float64, error) {
	if len(p) != len(m.ParamNames) {
		return nil, fmt.Errorf("参数维度 %d 与模型 %s 的 %d 不一致", len(p), m.Name, len(m.ParamNames))
	}
	events, err := m.timeline(s, p)
	if err != nil {
		return nil, err
	}
	inputs := m.Inputs
	if inputs == 0 {
		inputs = m.States
	}
	x := make([]float64, m.States)
	rate := make([]float64, inputs)
	out := make([]float64, len(s.Observations))
	f := func(t float64, y, dy []float64) {
		m.Derive(t, y, dy, p, rate, Covariates{subject: s, t: t})
	}
	in := ode.New(m.Solver)
	t := 0.0
	if len(events) > 0 && events[0].time < t {
		t = events[0].time
	}
	for _, ev := range events {
		if ev.time > t {
			if err := in.Integrate(f, t, ev.time, x); err != nil {
				return nil, fmt.Errorf("受试者 %s 积分至 %v 失败: %w", s.ID, ev.time, err)
			}
			t = ev.time
		}
		switch ev.kind {
		case eventObserve:
			o := s.Observations[ev.obs]
			v := m.Out(t, x, p, o.OutEq, Covariates{subject: s, t: t})
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("受试者 %s 在 %v 的预测值无效: %w", s.ID, t, ode.ErrNonFinite)
			}
			out[ev.obs] = v
		case eventBolus:
			x[ev.input] += ev.amount
		case eventInfusionStart:
			rate[ev.input] += ev.amount
		case eventInfusionEnd:
			rate[ev.input] -= ev.amount
		}
	}
	return out, nil
}

// SetSolver 替换积分器参数
func (m *ODE) SetSolver(opts ode.Options) { m.Solver = opts }
