package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有语义校验失败的公共根错误，可用 errors.Is 判断。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 记录出错字段的路径（如 Site[donnelly].Origin）与原因。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}

// FieldOf 提取错误链中的字段路径，不是 FieldError 时返回空串。
func FieldOf(err error) string {
	var fe FieldError
	if errors.As(err, &fe) {
		return fe.Field
	}
	return ""
}

func siteField(name, field string) string {
	if name == "" {
		name = "?"
	}
	return "Site[" + name + "]." + field
}
