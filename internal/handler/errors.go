package handler

import (
	stdErrors "errors"
	"fmt"
	"net/http"

	"github.com/fachebot/meeting-dashboard/internal/logger"
	"github.com/labstack/echo/v4"
)

// AppError 带 HTTP 状态码的业务错误
type AppError struct {
	Raw      error
	HTTPCode int
	Message  string
}

func (e AppError) Error() string {
	if e.Raw != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Raw)
	}
	return e.Message
}

func (e AppError) Unwrap() error {
	return e.Raw
}

func ErrInvalidArgument(message string) AppError {
	return AppError{HTTPCode: http.StatusBadRequest, Message: message}
}

func ErrInternal(message string, err error) AppError {
	return AppError{HTTPCode: http.StatusInternalServerError, Message: message, Raw: err}
}

type errorBody struct {
	OK    *bool  `json:"ok,omitempty"`
	Error string `json:"error"`
}

// handleError 统一错误响应；非 AppError 视为内部错误
func handleError(c echo.Context, err error) error {
	var appErr AppError
	if !stdErrors.As(err, &appErr) {
		appErr = ErrInternal("internal server error", err)
	}

	if appErr.HTTPCode >= http.StatusInternalServerError {
		logger.Errorf("[HTTP] %s %s 失败: %v", c.Request().Method, c.Path(), err)
	} else {
		logger.Debugf("[HTTP] %s %s 请求无效: %v", c.Request().Method, c.Path(), err)
	}
	return c.JSON(appErr.HTTPCode, errorBody{Error: appErr.Message})
}

// handleFailure 与 handleError 相同，但响应体带 ok:false
func handleFailure(c echo.Context, err error) error {
	var appErr AppError
	if !stdErrors.As(err, &appErr) {
		appErr = ErrInternal(err.Error(), err)
	}

	logger.Errorf("[HTTP] %s %s 失败: %v", c.Request().Method, c.Path(), err)
	ok := false
	return c.JSON(appErr.HTTPCode, errorBody{OK: &ok, Error: appErr.Message})
}
