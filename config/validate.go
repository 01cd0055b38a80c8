package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"npag/types"
)

// 可选枚举值
var (
	errorClasses = []string{"additive", "proportional"}
	odeMethods   = []string{"adams", "rk4"}
)

// MaxDims 低差异序列支持的最大参数维度
const MaxDims = 21

func invalid(field, format string, args ...any) error {
	return &types.ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func oneOf(v string, list []string) bool {
	for _, s := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Validate 校验配置，所有错误均为 *types.ConfigError
func (c *Config) Validate() error {
	if len(c.Parameters) == 0 {
		return invalid("parameters", "至少需要一个参数")
	}
	if len(c.Parameters) > MaxDims {
		return invalid("parameters", "参数维度 %d 超过上限 %d", len(c.Parameters), MaxDims)
	}
	seen := make(map[string]bool, len(c.Parameters))
	for i, r := range c.Parameters {
		field := fmt.Sprintf("parameters[%d]", i)
		if r.Name == "" {
			return invalid(field, "参数名为空")
		}
		if seen[r.Name] {
			return invalid(field, "参数名 %s 重复", r.Name)
		}
		seen[r.Name] = true
		if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
			return invalid(field, "%s 的范围必须是有限值", r.Name)
		}
		if r.Min >= r.Max {
			return invalid(field, "%s 的下界 %v 必须小于上界 %v", r.Name, r.Min, r.Max)
		}
	}
	switch {
	case c.InitPoints < 1:
		return invalid("init_points", "必须大于0")
	case c.MaxCycles < 1:
		return invalid("max_cycles", "必须大于0")
	case c.MinCycles < 0:
		return invalid("min_cycles", "不能为负")
	case c.MinCycles > c.MaxCycles:
		return invalid("min_cycles", "%d 大于 max_cycles %d", c.MinCycles, c.MaxCycles)
	case c.Convergence.Tolerance <= 0:
		return invalid("convergence.tolerance", "必须大于0")
	case c.Convergence.StallCycles < 1:
		return invalid("convergence.stall_cycles", "必须大于0")
	case c.Convergence.WeightTolerance <= 0:
		return invalid("convergence.weight_tolerance", "必须大于0")
	case c.MinDistance < 0 || c.MinDistance >= 1:
		return invalid("min_distance", "必须在 [0, 1) 内")
	case c.PruneThreshold <= 0 || c.PruneThreshold >= 1:
		return invalid("prune_threshold", "必须在 (0, 1) 内")
	case c.Inject.Margin < 0:
		return invalid("inject.margin", "不能为负")
	case c.Inject.Batch < 0:
		return invalid("inject.batch", "不能为负")
	case c.Inject.Eps <= 0 || c.Inject.Eps > 1:
		return invalid("inject.eps", "必须在 (0, 1] 内")
	case c.Inject.MinEps <= 0 || c.Inject.MinEps > c.Inject.Eps:
		return invalid("inject.min_eps", "必须在 (0, eps] 内")
	case c.Refine.Iterations < 0:
		return invalid("refine.iterations", "不能为负")
	case c.Refine.Iterations > 0 && (c.Refine.Step <= 0 || c.Refine.Step >= 0.5):
		return invalid("refine.step", "必须在 (0, 0.5) 内")
	case c.LikelihoodFloor <= 0 || c.LikelihoodFloor >= 1:
		return invalid("likelihood_floor", "必须在 (0, 1) 内")
	case c.IPM.Tolerance <= 0:
		return invalid("ipm.tolerance", "必须大于0")
	case c.IPM.MaxIterations < 1:
		return invalid("ipm.max_iterations", "必须大于0")
	case c.Workers < 0:
		return invalid("workers", "不能为负")
	}
	if err := c.validateError(); err != nil {
		return err
	}
	if err := c.validateODE(); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return invalid("log_level", "未知级别 %q", c.LogLevel)
		}
	}
	return nil
}

func (c *Config) validateError() error {
	e := c.Error
	if !oneOf(e.Class, errorClasses) {
		return invalid("error.class", "未知误差模型 %q", e.Class)
	}
	if e.Gamma <= 0 || math.IsNaN(e.Gamma) || math.IsInf(e.Gamma, 0) {
		return invalid("error.gamma", "必须为正的有限值")
	}
	for i, p := range e.Poly {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return invalid(fmt.Sprintf("error.poly[%d]", i), "必须是有限值")
		}
	}
	switch strings.ToLower(e.Class) {
	case "additive":
		if e.Poly[0]+e.Gamma <= 0 {
			return invalid("error.poly[0]", "加性误差模型在观测为0时标准差必须为正")
		}
	case "proportional":
		if e.Poly[0] <= 0 {
			return invalid("error.poly[0]", "比例误差模型要求 c0 > 0")
		}
	}
	return nil
}

func (c *Config) validateODE() error {
	o := c.ODE
	switch {
	case !oneOf(o.Method, odeMethods):
		return invalid("ode.method", "未知积分方法 %q", o.Method)
	case o.AbsTol <= 0 || o.RelTol <= 0:
		return invalid("ode.abs_tol", "容差必须大于0")
	case o.InitialStep <= 0:
		return invalid("ode.initial_step", "必须大于0")
	case o.MinStep <= 0 || o.MaxStep <= o.MinStep:
		return invalid("ode.min_step", "需满足 0 < min_step < max_step")
	case o.MaxSteps < 1:
		return invalid("ode.max_steps", "必须大于0")
	}
	return nil
}
