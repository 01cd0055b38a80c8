package grid

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"npag/ipm"
	"npag/maths"
	"npag/parallel"
	"npag/types"
)

// Options 网格调整参数
type Options struct {
	PruneThreshold    float64     // 相对最大权重的剪枝阈值
	Condense          bool        // 是否做QR秩压缩
	CondenseTolerance float64     // |R_ii|/||R_i|| 下限
	MinDistance       float64     // 最小归一化距离
	Margin            float64     // 细化与注入的最小目标函数提升
	InjectBatch       int         // 每轮低差异序列候选数
	RefineIterations  int         // 每点梯度步数，0 关闭
	RefineStep        float64     // 有限差分步长（归一化坐标）
	IPM               ipm.Options // 剪枝后的权重重优化
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		PruneThreshold:    types.PruneThreshold,
		Condense:          true,
		CondenseTolerance: types.CondenseTolerance,
		MinDistance:       types.MinDistance,
		Margin:            types.InjectMargin,
		InjectBatch:       0,
		RefineIterations:  2,
		RefineStep:        1e-4,
		IPM:               ipm.DefaultOptions(),
	}
}

// ColumnFunc 一个参数点在全部受试者上的似然列（已取下限）
type ColumnFunc func(params types.ParameterVector) []float64

// Report 一次调整的统计
type Report struct {
	Pruned     int      // 低权重剪除
	Condensed  int      // QR压缩剪除
	Refined    int      // 位置被移动的点
	Merged     int      // 被合并的点
	Candidates int      // 通过距离筛选的候选数
	Injected   int      // 准入的候选数
	Objective  float64  // 剪枝重优化后的目标函数
	Stable     bool     // 未作任何改变
	Warnings   []string // 非致命问题
}

// Adapter 网格调整器
// 自身不持有网格，每次调用都是从 (网格, Ψ) 到新网格的变换；低差异序列在多次调用间持续推进
type Adapter struct {
	opts    Options
	bounds  types.Bounds
	column  ColumnFunc
	sampler *maths.Sobol
	pool    *parallel.Pool
	log     logrus.FieldLogger
}

// New 创建调整器
// 参数:
//
//	opts    - 调整参数
//	bounds  - 参数空间边界
//	column  - 候选点似然列的计算方法
//	sampler - 低差异序列（维度与边界一致）
//	pool    - 并行执行层
//	log     - 日志
func New(opts Options, bounds types.Bounds, column ColumnFunc, sampler *maths.Sobol, pool *parallel.Pool, log logrus.FieldLogger) (*Adapter, error) {
	if bounds.Dims() == 0 {
		return nil, errors.New("参数边界为空")
	}
	if sampler == nil || sampler.Dims() != bounds.Dims() {
		return nil, fmt.Errorf("低差异序列维度与参数边界(%d)不一致", bounds.Dims())
	}
	if column == nil {
		return nil, errors.New("缺少似然列计算方法")
	}
	if pool == nil {
		pool = parallel.New(0)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{opts: opts, bounds: bounds, column: column, sampler: sampler, pool: pool, log: log}, nil
}

// Sample 从低差异序列取k个点作为初始网格（均匀权重）
func (a *Adapter) Sample(k int) types.Grid {
	points := make([]types.ParameterVector, k)
	for i := range points {
		points[i] = a.bounds.Denormalize(a.sampler.Next())
	}
	return types.NewGrid(points)
}

// Adapt 由当前网格与其似然矩阵生成下一轮网格
// 依次执行：剪枝（含压缩与重优化）、细化、合并、注入
// eps 为扩展与细化的尺度（相对于参数范围），为0时跳过细化与扩展
// 新注入点权重为0，全部权重由下一轮优化确定
func (a *Adapter) Adapt(g types.Grid, psi *mat.Dense, eps float64) (types.Grid, Report, error) {
	var rep Report
	if psi == nil {
		return nil, rep, fmt.Errorf("%w: 缺少似然矩阵", types.ErrInternal)
	}
	if _, k := psi.Dims(); k != len(g) {
		return nil, rep, fmt.Errorf("%w: 似然矩阵列数 %d 与网格大小 %d 不一致", types.ErrInternal, k, len(g))
	}
	if len(g) == 0 {
		return nil, rep, fmt.Errorf("%w: 网格为空", types.ErrInternal)
	}
	ps := fromPsi(g, psi)

	ps, err := a.prune(ps, &rep)
	if err != nil {
		return nil, rep, err
	}
	ps = a.refine(ps, eps, &rep)
	ps = a.merge(ps, &rep)
	ps = a.inject(ps, eps, &rep)

	rep.Stable = rep.Pruned == 0 && rep.Condensed == 0 && rep.Refined == 0 && rep.Merged == 0 && rep.Injected == 0
	a.log.WithFields(logrus.Fields{
		"pruned":     rep.Pruned,
		"condensed":  rep.Condensed,
		"refined":    rep.Refined,
		"merged":     rep.Merged,
		"candidates": rep.Candidates,
		"injected":   rep.Injected,
		"nspp":       ps.len(),
	}).Debug("网格调整完成")
	return ps.grid(), rep, nil
}
