package cycle

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"npag/cache"
	"npag/config"
	"npag/grid"
	"npag/ipm"
	"npag/likelihood"
	"npag/maths"
	"npag/model"
	"npag/parallel"
	"npag/predict"
	"npag/types"
)

// Option 控制器选项
type Option func(*Controller)

// WithProgress 每轮结束后接收进度快照
func WithProgress(p types.Progress) Option {
	return func(c *Controller) { c.progress = p }
}

// WithLogger 指定日志
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Controller) { c.log = log }
}

// WithSeedGrid 使用给定的初始网格代替低差异序列采样
func WithSeedGrid(g types.Grid) Option {
	return func(c *Controller) { c.seed = g.Clone() }
}

// WithRunID 指定运行编号（默认随机生成）
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

// WithModelName 记录在结果中的模型名
func WithModelName(name string) Option {
	return func(c *Controller) { c.modelName = name }
}

// checkpoint 目前最优的网格、权重与似然矩阵
type checkpoint struct {
	grid      types.Grid
	psi       *mat.Dense
	objective float64
	gamma     float64
	cycle     int
}

// Controller 循环控制器，唯一可以修改 CycleState 的组件
type Controller struct {
	cfg       *config.Config
	subjects  []*types.Subject
	model     model.Model
	modelName string
	bounds    types.Bounds
	runID     string
	seed      types.Grid
	progress  types.Progress
	log       logrus.FieldLogger

	pool      *parallel.Pool
	cache     *cache.Cache
	predictor *predict.Predictor
	eval      *likelihood.Evaluator
	adapter   *grid.Adapter

	state      types.CycleState
	reason     types.Reason
	preds      [][]types.Prediction // 本轮预测，供gamma估计复用
	best       *checkpoint
	prev       types.Grid // 上一轮优化后的网格
	stalls     int
	gammaDelta float64
	snapshots  []types.Snapshot
}

// New 创建控制器，配置或数据无效时返回 *types.ConfigError，循环不会开始
func New(cfg *config.Config, subjects []*types.Subject, m model.Model, opts ...Option) (*Controller, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &types.ConfigError{Field: "model", Reason: "未指定模型"}
	}
	if len(subjects) == 0 {
		return nil, &types.ConfigError{Field: "subjects", Reason: "没有受试者数据"}
	}
	seen := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		if err := s.Validate(); err != nil {
			return nil, &types.ConfigError{Field: "subjects", Reason: err.Error()}
		}
		if seen[s.ID] {
			return nil, &types.ConfigError{Field: "subjects", Reason: fmt.Sprintf("受试者编号 %s 重复", s.ID)}
		}
		seen[s.ID] = true
	}
	bounds := cfg.Bounds()
	if err := model.CheckParameters(m, bounds.Names()); err != nil {
		return nil, &types.ConfigError{Field: "parameters", Reason: err.Error()}
	}
	em, err := likelihood.NewErrorModel(cfg.Error.Class, likelihood.Poly(cfg.Error.Poly), cfg.Error.Gamma)
	if err != nil {
		return nil, &types.ConfigError{Field: "error.class", Reason: err.Error()}
	}

	c := &Controller{cfg: cfg, subjects: subjects, model: m, bounds: bounds}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.log = c.log.WithField("run", c.runID)
	for j, sp := range c.seed {
		if len(sp.Params) != bounds.Dims() || !bounds.Contains(sp.Params) {
			return nil, &types.ConfigError{Field: "seed_grid", Reason: fmt.Sprintf("第%d个点 %v 不在参数范围内", j, sp.Params)}
		}
	}

	c.pool = parallel.New(cfg.WorkerCount())
	if cfg.Cache {
		c.cache = cache.New()
	}
	c.predictor = predict.New(m, c.cache, c.pool, c.log)
	c.eval = likelihood.New(em, cfg.LikelihoodFloor)
	sobol, err := maths.NewSobol(bounds.Dims(), cfg.Seed)
	if err != nil {
		return nil, &types.ConfigError{Field: "parameters", Reason: err.Error()}
	}
	c.adapter, err = grid.New(grid.Options{
		PruneThreshold:    cfg.PruneThreshold,
		Condense:          cfg.Condense,
		CondenseTolerance: types.CondenseTolerance,
		MinDistance:       cfg.MinDistance,
		Margin:            cfg.Inject.Margin,
		InjectBatch:       cfg.Inject.Batch,
		RefineIterations:  cfg.Refine.Iterations,
		RefineStep:        cfg.Refine.Step,
		IPM:               c.ipmOptions(),
	}, bounds, c.column, sobol, c.pool, c.log)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInternal, err)
	}
	return c, nil
}

// RunID 运行编号
func (c *Controller) RunID() string { return c.runID }

// Run 执行循环直到收敛、失败或被取消
// 取消只在阶段之间检查，返回目前最优的结果（Incomplete=true），错误为空
// 失败时返回 *types.FitError
func (c *Controller) Run(ctx context.Context) (*types.Result, error) {
	c.state = types.CycleState{
		State: types.StateInitializing,
		Gamma: c.cfg.Error.Gamma,
		Eps:   c.cfg.Inject.Eps,
	}
	c.gammaDelta = types.GammaDelta
	c.state.Grid = c.initialGrid()
	c.log.WithFields(logrus.Fields{
		"subjects": len(c.subjects),
		"nspp":     len(c.state.Grid),
		"model":    c.modelName,
		"workers":  c.pool.Workers(),
	}).Info("开始拟合")

	for !c.state.State.Terminal() {
		if ctx.Err() != nil {
			return c.cancel()
		}
		var err error
		switch c.state.State {
		case types.StateInitializing:
			err = c.to(types.StateSimulating)
		case types.StateSimulating:
			err = c.simulate()
		case types.StateOptimizing:
			err = c.optimize()
		case types.StateAdapting:
			err = c.adapt()
		}
		if err != nil {
			return nil, c.fail(err)
		}
	}
	c.log.WithFields(logrus.Fields{
		"cycles": c.state.Cycle,
		"objf":   c.state.Objective,
		"nspp":   len(c.state.Grid),
		"reason": c.reason,
	}).Info("拟合结束")
	return c.result(c.reason, false), nil
}

// to 状态转移
func (c *Controller) to(next types.State) error {
	if !canTransition(c.state.State, next) {
		return transitionError(c.state.State, next, c.state.Cycle)
	}
	c.log.WithField("cycle", c.state.Cycle).Debugf("%v -> %v", c.state.State, next)
	c.state.State = next
	return nil
}

func (c *Controller) initialGrid() types.Grid {
	if len(c.seed) > 0 {
		g := c.seed.Clone()
		g.Normalize()
		return g
	}
	return c.adapter.Sample(c.cfg.InitPoints)
}

func (c *Controller) ipmOptions() ipm.Options {
	return ipm.Options{Tolerance: c.cfg.IPM.Tolerance, MaxIterations: c.cfg.IPM.MaxIterations}
}

// column 调整阶段评估单个候选点
func (c *Controller) column(p types.ParameterVector) []float64 {
	return c.eval.Column(c.subjects, c.predictor.Point(c.subjects, p))
}

func (c *Controller) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.state.Warnings = append(c.state.Warnings, msg)
	c.log.WithField("cycle", c.state.Cycle).Warn(msg)
}

// ------------------------------
// 阶段
// ------------------------------

// simulate 仿真全部受试者×支撑点并组装Ψ
func (c *Controller) simulate() error {
	c.state.Cycle++
	psi, err := c.buildPsi(false)
	if err != nil {
		return err
	}
	if _, _, ok := likelihood.CheckFinite(psi); !ok {
		c.log.WithField("cycle", c.state.Cycle).Warn("似然矩阵含非有限值，绕过缓存重新计算")
		if psi, err = c.buildPsi(true); err != nil {
			return err
		}
		if row, col, ok := likelihood.CheckFinite(psi); !ok {
			return &types.FitError{
				Kind:      types.ErrNumericalCorruption,
				SubjectID: c.subjects[row].ID,
				Cycle:     c.state.Cycle,
				Detail:    fmt.Sprintf("支撑点 %v 的似然为 %v", c.state.Grid[col].Params, psi.At(row, col)),
			}
		}
	}
	if rows := likelihood.Unexplained(psi, c.eval.Floor); len(rows) > 0 {
		return &types.FitError{
			Kind:      types.ErrUnexplainedSubject,
			SubjectID: c.subjects[rows[0]].ID,
			Cycle:     c.state.Cycle,
			Detail:    fmt.Sprintf("%d 个受试者在全部 %d 个支撑点上的似然均处于下限", len(rows), len(c.state.Grid)),
		}
	}
	c.state.Psi = psi
	return c.to(types.StateOptimizing)
}

func (c *Controller) buildPsi(bypass bool) (*mat.Dense, error) {
	preds, st, err := c.predictor.Grid(c.subjects, c.state.Grid.Points(), bypass)
	if err != nil {
		return nil, &types.FitError{Kind: types.ErrInternal, Cycle: c.state.Cycle, Detail: err.Error()}
	}
	c.log.WithFields(logrus.Fields{
		"cycle":     c.state.Cycle,
		"simulated": st.Simulated,
		"cached":    st.Cached,
		"failed":    st.Failed,
	}).Debug("仿真完成")
	c.preds = preds
	psi, err := c.eval.Psi(c.subjects, preds)
	if err != nil {
		return nil, &types.FitError{Kind: types.ErrInternal, Cycle: c.state.Cycle, Detail: err.Error()}
	}
	return psi, nil
}

// optimize 权重优化、gamma估计、单调性保护与收敛判定
func (c *Controller) optimize() error {
	res, err := c.weights(c.state.Psi)
	if err != nil {
		return err
	}
	if !finite(res.Objective) {
		c.log.WithField("cycle", c.state.Cycle).Warn("目标函数非有限，绕过缓存重新计算")
		psi, err := c.buildPsi(true)
		if err != nil {
			return err
		}
		if res, err = c.weights(psi); err != nil {
			return err
		}
		if !finite(res.Objective) {
			return &types.FitError{
				Kind:   types.ErrNumericalCorruption,
				Cycle:  c.state.Cycle,
				Detail: fmt.Sprintf("重新计算后目标函数仍为 %v", res.Objective),
			}
		}
		c.state.Psi = psi
	}
	c.state.Grid.SetWeights(res.Weights)
	c.state.Objective = res.Objective
	if c.cfg.Error.Estimate {
		c.estimateGamma()
	}

	prevObj := math.NaN()
	if n := len(c.state.History); n > 0 {
		prevObj = c.state.History[n-1]
	}
	if c.best != nil && c.state.Objective < c.best.objective {
		c.warn("第%d轮目标函数 %.6f 低于最优值 %.6f，恢复第%d轮网格", c.state.Cycle, c.state.Objective, c.best.objective, c.best.cycle)
		c.restore(c.best)
	} else {
		c.best = &checkpoint{
			grid:      c.state.Grid.Clone(),
			psi:       c.state.Psi,
			objective: c.state.Objective,
			gamma:     c.state.Gamma,
			cycle:     c.state.Cycle,
		}
	}
	c.state.History = append(c.state.History, c.state.Objective)

	if !math.IsNaN(prevObj) && stalled(c.state.Objective, prevObj, c.cfg.Convergence.Tolerance) {
		c.stalls++
		c.state.Eps = math.Max(c.state.Eps/2, c.cfg.Inject.MinEps)
	} else {
		c.stalls = 0
	}

	in := guardInput{
		Cycle:        c.state.Cycle,
		MinCycles:    c.cfg.MinCycles,
		MaxCycles:    c.cfg.MaxCycles,
		Stalls:       c.stalls,
		StallCycles:  c.cfg.Convergence.StallCycles,
		Stable:       c.state.Stable,
		SamePoints:   c.prev != nil && c.prev.SamePoints(c.state.Grid),
		WeightDelta:  weightDelta(c.prev.Weights(), c.state.Grid.Weights()),
		WeightTol:    c.cfg.Convergence.WeightTolerance,
		EpsExhausted: c.state.Eps <= c.cfg.Inject.MinEps,
	}
	c.prev = c.state.Grid.Clone()

	next := types.StateAdapting
	if c.reason = decide(in); c.reason != types.ReasonNone {
		next = types.StateConverged
	}
	if err := c.to(next); err != nil {
		return err
	}
	c.publish()
	return nil
}

// weights 调用内点法，非收敛降级为警告
func (c *Controller) weights(psi *mat.Dense) (ipm.Result, error) {
	res, err := ipm.Optimize(psi, c.ipmOptions())
	if err != nil {
		return res, c.optimizeError(err)
	}
	switch {
	case !res.Converged:
		c.warn("第%d轮权重优化未收敛 (%d 次迭代)，使用最优迭代", c.state.Cycle, res.Iterations)
	case res.Relaxed:
		c.log.WithField("cycle", c.state.Cycle).Debug("权重优化在放宽容差后收敛")
	}
	return res, nil
}

func (c *Controller) optimizeError(err error) error {
	var zr *ipm.ZeroRowError
	if errors.As(err, &zr) && zr.Row < len(c.subjects) {
		return &types.FitError{
			Kind:      types.ErrUnexplainedSubject,
			SubjectID: c.subjects[zr.Row].ID,
			Cycle:     c.state.Cycle,
			Detail:    "似然矩阵行全为零",
		}
	}
	return &types.FitError{Kind: types.ErrNumericalCorruption, Cycle: c.state.Cycle, Detail: err.Error()}
}

// restore 恢复最优检查点
func (c *Controller) restore(cp *checkpoint) {
	c.state.Grid = cp.grid.Clone()
	c.state.Psi = cp.psi
	c.state.Objective = cp.objective
	if cp.gamma != c.state.Gamma {
		c.state.Gamma = cp.gamma
		c.eval = c.eval.WithGamma(cp.gamma)
	}
}

// adapt 调整网格，新网格的Ψ在下一轮重新计算
func (c *Controller) adapt() error {
	next, rep, err := c.adapter.Adapt(c.state.Grid, c.state.Psi, c.state.Eps)
	if err != nil {
		var fe *types.FitError
		if errors.As(err, &fe) {
			fe.Cycle = c.state.Cycle
			return fe
		}
		var zr *ipm.ZeroRowError
		if errors.As(err, &zr) {
			return c.optimizeError(err)
		}
		return &types.FitError{Kind: types.ErrInternal, Cycle: c.state.Cycle, Detail: err.Error()}
	}
	for _, w := range rep.Warnings {
		c.warn("第%d轮: %s", c.state.Cycle, w)
	}
	c.state.Stable = rep.Stable
	c.state.Grid = next
	c.state.Psi = nil
	if c.cache != nil {
		if removed := c.cache.Retain(next.Points()); removed > 0 {
			c.log.WithFields(logrus.Fields{"cycle": c.state.Cycle, "removed": removed}).Debug("清理缓存")
		}
	}
	return c.to(types.StateSimulating)
}

// publish 发布进度快照
func (c *Controller) publish() {
	snap := c.state.Snapshot(c.runID)
	c.snapshots = append(c.snapshots, snap)
	c.log.WithFields(logrus.Fields{
		"cycle":  snap.Cycle,
		"nspp":   snap.GridSize,
		"objf":   snap.Objective,
		"neg2ll": snap.Neg2LL,
		"gamma":  snap.Gamma,
		"eps":    snap.Eps,
	}).Info("循环完成")
	if c.progress != nil {
		c.progress.Update(snap)
	}
}

func (c *Controller) cancel() (*types.Result, error) {
	c.log.WithFields(logrus.Fields{"cycle": c.state.Cycle, "state": c.state.State}).Warn("运行被取消")
	c.state.State = types.StateCancelled
	return c.result(types.ReasonCancelled, true), nil
}

func (c *Controller) fail(err error) error {
	c.state.State = types.StateFailed
	c.reason = types.ReasonFailed
	c.log.WithField("cycle", c.state.Cycle).Errorf("拟合失败: %v", err)
	return err
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
