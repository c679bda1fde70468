package server

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// StructValidator 把 go-playground/validator 注册为 Fiber 的 StructValidator，
// c.Bind() 解析请求后会自动校验 validate 标签。
type StructValidator struct {
	validator *validator.Validate
}

var _ fiber.StructValidator = (*StructValidator)(nil)

// NewStructValidator 创建启用 required 结构体检查的校验器。
func NewStructValidator() *StructValidator {
	return &StructValidator{validator: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate 实现 fiber.StructValidator。
func (v *StructValidator) Validate(out any) error {
	return v.validator.Struct(out)
}
