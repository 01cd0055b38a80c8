package npag

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"npag/config"
	"npag/cycle"
	"npag/debug"
	"npag/load"
	"npag/model"
	"npag/ode"
	"npag/parallel"
	"npag/predict"
	"npag/store"
	"npag/types"

	_ "npag/model/onecomp"
	_ "npag/model/twocomp"
)

// 进度图文件名
const (
	ChartsFile = "cycles.html"
	PlotFile   = "neg2ll.png"
)

// Npag 一次群体估计：数据、模型、配置与结果
type Npag struct {
	Config    *config.Config
	Subjects  []*types.Subject
	Model     model.Model
	ModelName string
	Result    *types.Result
	Charts    *debug.Charts // 每轮进度
	Log       logrus.FieldLogger
}

// New 初始化，cfg 为空时使用默认配置
func New(cfg *config.Config) *Npag {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Npag{Config: cfg, Charts: &debug.Charts{}, Log: logrus.StandardLogger()}
}

// LoadData 读取数据表并剔除配置中排除的受试者
func (n *Npag) LoadData(path string) error {
	subjects, err := load.ReadSubjectsFile(path)
	if err != nil {
		return fmt.Errorf("读取数据 %s: %w", path, err)
	}
	kept, missing := load.Exclude(subjects, n.Config.Exclude)
	if len(missing) > 0 {
		n.Log.Warnf("排除列表中的受试者不存在: %v", missing)
	}
	n.Subjects = kept
	n.Log.WithField("subjects", len(kept)).Info("数据已载入")
	return nil
}

// SetModel 按注册名选择模型，ODE 模型使用配置中的积分器参数
func (n *Npag) SetModel(name string) error {
	m, err := model.Get(name)
	if err != nil {
		return err
	}
	if om, ok := m.(*model.ODE); ok {
		opts, err := SolverOptions(n.Config.ODE)
		if err != nil {
			return err
		}
		om.SetSolver(opts)
	}
	n.Model, n.ModelName = m, name
	return nil
}

// SolverOptions 配置转换为积分器参数
func SolverOptions(c config.ODE) (ode.Options, error) {
	method, err := ode.ParseMethod(c.Method)
	if err != nil {
		return ode.Options{}, &types.ConfigError{Field: "ode.method", Reason: err.Error()}
	}
	return ode.Options{
		Method:      method,
		AbsTol:      c.AbsTol,
		RelTol:      c.RelTol,
		InitialStep: c.InitialStep,
		MinStep:     c.MinStep,
		MaxStep:     c.MaxStep,
		MaxSteps:    c.MaxSteps,
	}, nil
}

// Fit 运行估计，取消时返回不完整的最优结果
// 配置了数据库时每轮快照同时写入
func (n *Npag) Fit(ctx context.Context, opts ...cycle.Option) (*types.Result, error) {
	progress := []types.Progress{n.Charts}
	if n.Config.Output.Database != "" {
		db, err := store.Open(n.Config.Output.Database)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		rec := db.Recorder()
		progress = append(progress, rec)
		defer func() {
			if err := rec.Err(); err != nil {
				n.Log.Warnf("写入循环记录: %v", err)
			}
		}()
	}
	opts = append([]cycle.Option{
		cycle.WithLogger(n.Log),
		cycle.WithModelName(n.ModelName),
		cycle.WithProgress(types.ProgressFunc(func(s types.Snapshot) {
			for _, p := range progress {
				p.Update(s)
			}
		})),
	}, opts...)
	c, err := cycle.New(n.Config, n.Subjects, n.Model, opts...)
	if err != nil {
		return nil, err
	}
	res, err := c.Run(ctx)
	if err != nil {
		return nil, err
	}
	n.Result = res
	return res, nil
}

// Simulate 在给定网格上仿真全部受试者，结果写入 path
func (n *Npag) Simulate(g types.Grid, path string) error {
	if n.Model == nil {
		return &types.ConfigError{Field: "model", Reason: "未指定模型"}
	}
	if len(g) == 0 {
		return &types.ConfigError{Field: "theta", Reason: "网格为空"}
	}
	points := make([]types.ParameterVector, len(g))
	for j, sp := range g {
		points[j] = sp.Params
	}
	pred := predict.New(n.Model, nil, parallel.New(n.Config.WorkerCount()), n.Log)
	preds, st, err := pred.Grid(n.Subjects, points, true)
	if err != nil {
		return err
	}
	if st.Failed > 0 {
		n.Log.Warnf("%d 次仿真失败", st.Failed)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return load.WritePredictionsFile(path, n.Subjects, preds)
}

// Export 写出结果文件，按配置写入数据库与进度图
func (n *Npag) Export(ctx context.Context) error {
	if n.Result == nil {
		return fmt.Errorf("%w: 尚无结果", types.ErrInternal)
	}
	out := n.Config.Output
	if err := load.SaveResult(out.Dir, n.Result); err != nil {
		return err
	}
	if out.Database != "" {
		db, err := store.Open(out.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.SaveResult(ctx, n.Result); err != nil {
			return err
		}
	}
	if out.Charts {
		if err := writeFile(filepath.Join(out.Dir, ChartsFile), n.Charts.Render); err != nil {
			return fmt.Errorf("绘制进度图: %w", err)
		}
		plot := func(w io.Writer) error { return n.Charts.Plot(w, "png") }
		if err := writeFile(filepath.Join(out.Dir, PlotFile), plot); err != nil {
			return fmt.Errorf("绘制 -2LL 曲线: %w", err)
		}
	}
	n.Log.WithField("dir", out.Dir).Info("结果已写出")
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return write(f)
}
