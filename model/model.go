package model

import (
	"fmt"
	"sort"
	"sync"

	"npag/types"
)

// Model 给定受试者与参数向量，返回每个观测时刻的预测值
// 实现必须是纯函数，可被多个协程并发调用
type Model interface {
	Simulate(subject *types.Subject, params types.ParameterVector) ([]float64, error)
}

// Describer 可选接口：声明参数名，用于维度校验
type Describer interface {
	Parameters() []string
}

// Func 函数适配
type Func func(subject *types.Subject, params types.ParameterVector) ([]float64, error)

// Simulate 实现 Model
func (f Func) Simulate(subject *types.Subject, params types.ParameterVector) ([]float64, error) {
	return f(subject, params)
}

// ------------------------------
// 模型注册表
// ------------------------------

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Model{}
)

// Register 注册命名模型（通常在子包 init 中调用）
func Register(name string, factory func() Model) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("模型重复注册: %s", name))
	}
	registry[name] = factory
}

// Get 按名称创建模型
func Get(name string) (Model, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("未知模型: %s", name)
	}
	return factory(), nil
}

// Names 已注册模型列表
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckParameters 校验参数名与模型声明是否一致
func CheckParameters(m Model, names []string) error {
	d, ok := m.(Describer)
	if !ok {
		return nil
	}
	want := d.Parameters()
	if len(want) != len(names) {
		return fmt.Errorf("模型需要 %d 个参数 %v，配置提供了 %d 个", len(want), want, len(names))
	}
	for i := range want {
		if want[i] != names[i] {
			return fmt.Errorf("第%d个参数应为 %s，配置为 %s", i+1, want[i], names[i])
		}
	}
	return nil
}
