package types

import (
	"fmt"
	"sort"
)

// Route 给药途径
type Route int

const (
	RouteBolus    Route = iota // 静脉推注/口服（瞬时输入）
	RouteInfusion              // 恒速输注
)

// String 途径名称
func (r Route) String() string {
	switch r {
	case RouteBolus:
		return "bolus"
	case RouteInfusion:
		return "infusion"
	}
	return fmt.Sprintf("Route(%d)", int(r))
}

// Dose 给药事件
type Dose struct {
	Time     float64 `json:"time"`     // 给药时间
	Amount   float64 `json:"amount"`   // 剂量
	Duration float64 `json:"duration"` // 输注时长（0为推注）
	Input    int     `json:"input"`    // 输入房室（从0开始）
	Route    Route   `json:"route"`    // 给药途径
}

// Rate 输注速率
func (d Dose) Rate() float64 {
	if d.Duration <= 0 {
		return 0
	}
	return d.Amount / d.Duration
}

// Observation 观测记录
type Observation struct {
	Time  float64 `json:"time"`   // 观测时间
	Value float64 `json:"value"`  // 观测值
	OutEq int     `json:"out_eq"` // 输出方程编号（从0开始）
}

// Subject 受试者
// 载入后不再修改，可在多个协程间共享读取
type Subject struct {
	ID           string        `json:"id"`
	Doses        []Dose        `json:"doses"`
	Observations []Observation `json:"observations"`
	Covariates   Covariates    `json:"covariates,omitempty"`
}

// NewSubject 创建受试者并按时间排序事件
func NewSubject(id string, doses []Dose, obs []Observation, cov Covariates) (*Subject, error) {
	s := &Subject{ID: id, Doses: doses, Observations: obs, Covariates: cov}
	sort.SliceStable(s.Doses, func(i, j int) bool { return s.Doses[i].Time < s.Doses[j].Time })
	sort.SliceStable(s.Observations, func(i, j int) bool { return s.Observations[i].Time < s.Observations[j].Time })
	return s, s.Validate()
}

// Validate 检查受试者数据
func (s *Subject) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("受试者编号为空")
	}
	if len(s.Observations) == 0 {
		return fmt.Errorf("受试者 %s 没有观测记录", s.ID)
	}
	for i, d := range s.Doses {
		if d.Amount < 0 || d.Duration < 0 || d.Input < 0 {
			return fmt.Errorf("受试者 %s 第%d次给药无效", s.ID, i+1)
		}
		if i > 0 && d.Time < s.Doses[i-1].Time {
			return fmt.Errorf("受试者 %s 给药时间未排序", s.ID)
		}
	}
	for i, o := range s.Observations {
		if o.OutEq < 0 {
			return fmt.Errorf("受试者 %s 第%d个观测输出方程无效", s.ID, i+1)
		}
		if i > 0 && o.Time < s.Observations[i-1].Time {
			return fmt.Errorf("受试者 %s 观测时间未排序", s.ID)
		}
	}
	return nil
}

// Values 观测值列表
func (s *Subject) Values() []float64 {
	v := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		v[i] = o.Value
	}
	return v
}

// Covariate 随时间变化的协变量（线性插值）
type Covariate struct {
	Times  []float64 `json:"times"`
	Values []float64 `json:"values"`
}

// Add 追加一个取值点
func (c *Covariate) Add(t, v float64) {
	i := sort.SearchFloat64s(c.Times, t)
	if i < len(c.Times) && c.Times[i] == t {
		c.Values[i] = v
		return
	}
	c.Times = append(c.Times, 0)
	c.Values = append(c.Values, 0)
	copy(c.Times[i+1:], c.Times[i:])
	copy(c.Values[i+1:], c.Values[i:])
	c.Times[i], c.Values[i] = t, v
}

// At 在时间t处插值，两端外推取端点值
func (c *Covariate) At(t float64) float64 {
	n := len(c.Times)
	switch {
	case n == 0:
		return 0
	case t <= c.Times[0]:
		return c.Values[0]
	case t >= c.Times[n-1]:
		return c.Values[n-1]
	}
	i := sort.SearchFloat64s(c.Times, t)
	if c.Times[i] == t {
		return c.Values[i]
	}
	t0, t1 := c.Times[i-1], c.Times[i]
	v0, v1 := c.Values[i-1], c.Values[i]
	return v0 + (v1-v0)*(t-t0)/(t1-t0)
}

// Covariates 协变量集合
type Covariates map[string]*Covariate

// At 取得协变量在t时刻的值，不存在返回false
func (c Covariates) At(name string, t float64) (float64, bool) {
	cov, ok := c[name]
	if !ok {
		return 0, false
	}
	return cov.At(t), true
}
