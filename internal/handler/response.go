// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/middleware"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/service"

	"github.com/gin-gonic/gin"
)

// respond 输出统一的 {code, message, data} 结构。
func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{
		"code":    status,
		"message": message,
		"data":    data,
	})
}

// statusFor 把业务错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrOwnershipViolation):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTitleRequired),
		errors.Is(err, service.ErrNoFiles),
		errors.Is(err, service.ErrEmptyMessage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "服务器内部错误"
	}
	respond(c, status, message, nil)
}

// currentUser 读取 AuthMiddleware 注入的用户，缺失时直接返回 401。
func currentUser(c *gin.Context) (*model.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		respond(c, http.StatusUnauthorized, apperr.ErrUnauthorized.Error(), nil)
		return nil, false
	}
	return user, true
}
