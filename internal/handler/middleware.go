package handler

import (
	"time"

	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// CustomValidator 基于 go-playground/validator 实现 echo.Validator
type CustomValidator struct {
	v *validator.Validate
}

func NewValidator() *CustomValidator {
	return &CustomValidator{v: validator.New()}
}

func (cv *CustomValidator) Validate(i any) error {
	return cv.v.Struct(i)
}

// RequestLogger 结构化访问日志
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			entry := logger.WithFields(map[string]any{
				"method":  req.Method,
				"path":    c.Path(),
				"uri":     req.RequestURI,
				"status":  c.Response().Status,
				"latency": time.Since(start).String(),
				"remote":  c.RealIP(),
			})
			if c.Response().Status >= 500 {
				entry.Warn("[HTTP] 请求处理失败")
			} else {
				entry.Debug("[HTTP] 请求完成")
			}
			return nil
		}
	}
}
