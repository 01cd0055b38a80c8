package predict

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"npag/cache"
	"npag/model"
	"npag/parallel"
	"npag/types"
)

// Stats 一次仿真阶段的统计
type Stats struct {
	Simulated int64 // 实际仿真次数
	Cached    int64 // 缓存命中
	Failed    int64 // 失败（已吸收）
}

// Predictor 仿真扇出：受试者×支撑点，带缓存
type Predictor struct {
	model model.Model
	cache *cache.Cache // 为空时不缓存
	pool  *parallel.Pool
	log   logrus.FieldLogger
}

// New 创建
func New(m model.Model, c *cache.Cache, p *parallel.Pool, log logrus.FieldLogger) *Predictor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Predictor{model: m, cache: c, pool: p, log: log}
}

// One 单个受试者在单个参数点的预测，模型 panic 视为失败
func (p *Predictor) One(s *types.Subject, params types.ParameterVector, bypass bool) (pred types.Prediction, cached bool) {
	if p.cache != nil && !bypass {
		if hit, ok := p.cache.Get(s.ID, params); ok {
			return hit, true
		}
	}
	pred = p.simulate(s, params)
	if p.cache != nil {
		p.cache.Put(s.ID, params, pred)
	}
	return pred, false
}

// simulate 调用模型，panic 转为失败预测
func (p *Predictor) simulate(s *types.Subject, params types.ParameterVector) (pred types.Prediction) {
	defer func() {
		if r := recover(); r != nil {
			pred = types.Prediction{Err: fmt.Errorf("模型异常: %v", r)}
		}
	}()
	values, err := p.model.Simulate(s, params)
	return types.Prediction{Values: values, Err: err}
}

// Grid 仿真所有受试者×支撑点，结果 preds[i][j]；bypass 为真时忽略缓存中的旧值
func (p *Predictor) Grid(subjects []*types.Subject, points []types.ParameterVector, bypass bool) ([][]types.Prediction, Stats, error) {
	n, k := len(subjects), len(points)
	preds := make([][]types.Prediction, n)
	for i := range preds {
		preds[i] = make([]types.Prediction, k)
	}
	var st Stats
	err := p.pool.ForEach(n*k, func(u int) error {
		i, j := u/k, u%k
		pred, cached := p.One(subjects[i], points[j], bypass)
		preds[i][j] = pred
		switch {
		case cached:
			atomic.AddInt64(&st.Cached, 1)
		default:
			atomic.AddInt64(&st.Simulated, 1)
		}
		if pred.Failed() {
			atomic.AddInt64(&st.Failed, 1)
			p.log.WithFields(logrus.Fields{"subject": subjects[i].ID, "point": j}).Debugf("仿真失败: %v", pred.Err)
		}
		return nil
	})
	return preds, st, err
}

// Point 单个参数点在全部受试者上的预测（顺序执行，供调整阶段的并行单元调用）
// 只读缓存：调整阶段的试探点不写入，缓存只在仿真阶段增长
func (p *Predictor) Point(subjects []*types.Subject, params types.ParameterVector) []types.Prediction {
	out := make([]types.Prediction, len(subjects))
	for i, s := range subjects {
		if p.cache != nil {
			if hit, ok := p.cache.Get(s.ID, params); ok {
				out[i] = hit
				continue
			}
		}
		out[i] = p.simulate(s, params)
	}
	return out
}
