package types

import (
	"errors"
	"fmt"
)

// 错误类别
var (
	ErrConfig              = errors.New("配置错误")
	ErrUnexplainedSubject  = errors.New("受试者无法被任何支撑点解释")
	ErrNumericalCorruption = errors.New("数值损坏")
	ErrInternal            = errors.New("内部错误")
)

// ConfigError 配置校验失败，运行开始前返回
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrConfig, e.Field, e.Reason)
}

// Unwrap 支持 errors.Is(err, ErrConfig)
func (e *ConfigError) Unwrap() error { return ErrConfig }

// FitError 运行期致命错误
type FitError struct {
	Kind      error  // ErrUnexplainedSubject / ErrNumericalCorruption / ErrInternal
	SubjectID string // 相关受试者（可为空）
	Cycle     int    // 发生的循环
	Detail    string
}

func (e *FitError) Error() string {
	msg := fmt.Sprintf("第%d轮: %v", e.Cycle, e.Kind)
	if e.SubjectID != "" {
		msg += fmt.Sprintf(" (受试者 %s)", e.SubjectID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap 返回错误类别
func (e *FitError) Unwrap() error { return e.Kind }
