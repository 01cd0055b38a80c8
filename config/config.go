package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"npag/types"
)

// Config 运行配置
type Config struct {
	InitPoints      int            `yaml:"init_points" mapstructure:"init_points"`           // 初始网格点数
	Seed            uint64         `yaml:"seed" mapstructure:"seed"`                         // 随机种子
	Parameters      []types.Range  `yaml:"parameters" mapstructure:"parameters"`             // 参数范围（有序）
	MinCycles       int            `yaml:"min_cycles" mapstructure:"min_cycles"`             // 最少循环数
	MaxCycles       int            `yaml:"max_cycles" mapstructure:"max_cycles"`             // 最多循环数
	Convergence     Convergence    `yaml:"convergence" mapstructure:"convergence"`           // 收敛判据
	MinDistance     float64        `yaml:"min_distance" mapstructure:"min_distance"`         // 支撑点最小归一化距离
	PruneThreshold  float64        `yaml:"prune_threshold" mapstructure:"prune_threshold"`   // 剪枝阈值
	Condense        bool           `yaml:"condense" mapstructure:"condense"`                 // 是否进行QR压缩
	Inject          Inject         `yaml:"inject" mapstructure:"inject"`                     // 候选点注入
	Refine          Refine         `yaml:"refine" mapstructure:"refine"`                     // 局部细化
	Error           ErrorModel     `yaml:"error" mapstructure:"error"`                       // 误差模型
	ODE             ODE            `yaml:"ode" mapstructure:"ode"`                           // 积分器
	LikelihoodFloor float64        `yaml:"likelihood_floor" mapstructure:"likelihood_floor"` // 似然下限
	IPM             IPM            `yaml:"ipm" mapstructure:"ipm"`                           // 权重优化
	Workers         int            `yaml:"workers" mapstructure:"workers"`                   // 并行数（0为CPU核数）
	Cache           bool           `yaml:"cache" mapstructure:"cache"`                       // 预测缓存
	LogLevel        string         `yaml:"log_level" mapstructure:"log_level"`               // 日志级别
	Exclude         []string       `yaml:"exclude,omitempty" mapstructure:"exclude"`         // 排除的受试者
	Output          Output         `yaml:"output" mapstructure:"output"`                     // 输出
}

// Convergence 收敛判据
type Convergence struct {
	Tolerance       float64 `yaml:"tolerance" mapstructure:"tolerance"`               // 目标函数相对改进阈值
	StallCycles     int     `yaml:"stall_cycles" mapstructure:"stall_cycles"`         // 连续停滞轮数
	WeightTolerance float64 `yaml:"weight_tolerance" mapstructure:"weight_tolerance"` // 权重变化阈值
}

// Inject 候选点注入
type Inject struct {
	Margin float64 `yaml:"margin" mapstructure:"margin"`   // 准入的最小目标函数提升
	Batch  int     `yaml:"batch" mapstructure:"batch"`     // 每轮低差异序列点数
	Eps    float64 `yaml:"eps" mapstructure:"eps"`         // 扩展初始尺度（相对范围）
	MinEps float64 `yaml:"min_eps" mapstructure:"min_eps"` // 扩展最小尺度
}

// Refine 局部细化
type Refine struct {
	Iterations int     `yaml:"iterations" mapstructure:"iterations"` // 每点梯度步数（0关闭）
	Step       float64 `yaml:"step" mapstructure:"step"`             // 有限差分步长（归一化坐标）
}

// ErrorModel 误差模型
type ErrorModel struct {
	Class    string     `yaml:"class" mapstructure:"class"`       // additive / proportional
	Gamma    float64    `yaml:"gamma" mapstructure:"gamma"`       // 初始缩放
	Poly     [4]float64 `yaml:"poly,flow" mapstructure:"poly"`    // c0 + c1*y + c2*y^2 + c3*y^3
	Estimate bool       `yaml:"estimate" mapstructure:"estimate"` // 是否逐轮估计gamma
}

// ODE 积分器
type ODE struct {
	Method      string  `yaml:"method" mapstructure:"method"` // adams / rk4
	AbsTol      float64 `yaml:"abs_tol" mapstructure:"abs_tol"`
	RelTol      float64 `yaml:"rel_tol" mapstructure:"rel_tol"`
	InitialStep float64 `yaml:"initial_step" mapstructure:"initial_step"`
	MinStep     float64 `yaml:"min_step" mapstructure:"min_step"`
	MaxStep     float64 `yaml:"max_step" mapstructure:"max_step"`
	MaxSteps    int     `yaml:"max_steps" mapstructure:"max_steps"`
}

// IPM 权重优化
type IPM struct {
	Tolerance     float64 `yaml:"tolerance" mapstructure:"tolerance"`
	MaxIterations int     `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// Output 输出
type Output struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`             // 输出目录
	Database string `yaml:"database" mapstructure:"database"`   // SQLite 路径（空则不写入）
	Charts   bool   `yaml:"charts" mapstructure:"charts"`       // 生成进度图
}

// Default 默认配置
func Default() *Config {
	return &Config{
		InitPoints: 1024,
		Seed:       347,
		MinCycles:  3,
		MaxCycles:  100,
		Convergence: Convergence{
			Tolerance:       1e-4,
			StallCycles:     3,
			WeightTolerance: 1e-4,
		},
		MinDistance:    types.MinDistance,
		PruneThreshold: types.PruneThreshold,
		Condense:       true,
		Inject: Inject{
			Margin: types.InjectMargin,
			Batch:  16,
			Eps:    types.InitialEps,
			MinEps: types.MinEps,
		},
		Refine: Refine{Iterations: 2, Step: 1e-4},
		Error: ErrorModel{
			Class: "additive",
			Gamma: types.InitialGamma,
			Poly:  [4]float64{0.1, 0.1, 0, 0},
		},
		ODE: ODE{
			Method:      "adams",
			AbsTol:      1e-6,
			RelTol:      1e-4,
			InitialStep: 1e-3,
			MinStep:     1e-10,
			MaxStep:     1,
			MaxSteps:    100000,
		},
		LikelihoodFloor: types.LikelihoodFloor,
		IPM:             IPM{Tolerance: 1e-8, MaxIterations: 100},
		Workers:         0,
		Cache:           true,
		LogLevel:        "info",
		Output:          Output{Dir: "outputs"},
	}
}

// setDefaults 向viper注册默认值，使环境变量覆盖生效
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("init_points", cfg.InitPoints)
	v.SetDefault("seed", cfg.Seed)
	v.SetDefault("min_cycles", cfg.MinCycles)
	v.SetDefault("max_cycles", cfg.MaxCycles)
	v.SetDefault("convergence.tolerance", cfg.Convergence.Tolerance)
	v.SetDefault("convergence.stall_cycles", cfg.Convergence.StallCycles)
	v.SetDefault("convergence.weight_tolerance", cfg.Convergence.WeightTolerance)
	v.SetDefault("min_distance", cfg.MinDistance)
	v.SetDefault("prune_threshold", cfg.PruneThreshold)
	v.SetDefault("condense", cfg.Condense)
	v.SetDefault("inject.margin", cfg.Inject.Margin)
	v.SetDefault("inject.batch", cfg.Inject.Batch)
	v.SetDefault("inject.eps", cfg.Inject.Eps)
	v.SetDefault("inject.min_eps", cfg.Inject.MinEps)
	v.SetDefault("refine.iterations", cfg.Refine.Iterations)
	v.SetDefault("refine.step", cfg.Refine.Step)
	v.SetDefault("error.class", cfg.Error.Class)
	v.SetDefault("error.gamma", cfg.Error.Gamma)
	v.SetDefault("error.poly", cfg.Error.Poly[:])
	v.SetDefault("error.estimate", cfg.Error.Estimate)
	v.SetDefault("ode.method", cfg.ODE.Method)
	v.SetDefault("ode.abs_tol", cfg.ODE.AbsTol)
	v.SetDefault("ode.rel_tol", cfg.ODE.RelTol)
	v.SetDefault("ode.initial_step", cfg.ODE.InitialStep)
	v.SetDefault("ode.min_step", cfg.ODE.MinStep)
	v.SetDefault("ode.max_step", cfg.ODE.MaxStep)
	v.SetDefault("ode.max_steps", cfg.ODE.MaxSteps)
	v.SetDefault("likelihood_floor", cfg.LikelihoodFloor)
	v.SetDefault("ipm.tolerance", cfg.IPM.Tolerance)
	v.SetDefault("ipm.max_iterations", cfg.IPM.MaxIterations)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("output.dir", cfg.Output.Dir)
	v.SetDefault("output.database", cfg.Output.Database)
	v.SetDefault("output.charts", cfg.Output.Charts)
}

// Load 读取YAML配置，NPAG_ 前缀的环境变量可覆盖（如 NPAG_MAX_CYCLES）
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NPAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	cfg := Default()
	setDefaults(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// Save 写出YAML配置
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Bounds 参数空间
func (c *Config) Bounds() types.Bounds {
	return append(types.Bounds(nil), c.Parameters...)
}

// WorkerCount 实际并行数
func (c *Config) WorkerCount() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}
