package types

import "io"

// Debug 调试记录接口
type Debug interface {
	Progress
	Render(w io.Writer) error
}
