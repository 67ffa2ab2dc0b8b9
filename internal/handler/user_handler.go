package handler

import (
	"errors"
	"net/http"

	"pai-kb-go/internal/middleware"
	"pai-kb-go/internal/service"
	"pai-kb-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理注册、登录等用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// CredentialsRequest 是注册和登录共用的请求体。
type CredentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 处理用户注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		respond(c, http.StatusBadRequest, "无效的请求负载：用户名和密码不能为空", nil)
		return
	}

	user, err := h.userService.Register(req.Username, req.Password)
	if errors.Is(err, service.ErrUsernameTaken) {
		respond(c, http.StatusConflict, err.Error(), nil)
		return
	}
	if err != nil {
		log.Warnf("Register: User registration failed for '%s', error: %v", req.Username, err)
		respond(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	log.Infof("User '%s' registered successfully", user.Username)
	respond(c, http.StatusOK, "User registered successfully", gin.H{"id": user.ID, "username": user.Username})
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req CredentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载：用户名和密码不能为空", nil)
		return
	}

	accessToken, refreshToken, err := h.userService.Login(req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: User authentication failed for '%s', error: %v", req.Username, err)
		respond(c, http.StatusUnauthorized, "无效的凭证", nil)
		return
	}

	log.Infof("User '%s' logged in successfully", req.Username)
	respond(c, http.StatusOK, "Login successful", gin.H{
		"token":        accessToken,
		"refreshToken": refreshToken,
	})
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求。
func (h *UserHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载：refreshToken 不能为空", nil)
		return
	}

	access, refresh, err := h.userService.RefreshToken(req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: Failed to refresh token, error: %v", err)
		respond(c, http.StatusUnauthorized, "无效的 refresh token", nil)
		return
	}
	respond(c, http.StatusOK, "Token refreshed successfully", gin.H{
		"token":        access,
		"refreshToken": refresh,
	})
}

// GetProfile 获取当前登录用户的个人信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	respond(c, http.StatusOK, "success", user)
}

// Logout 处理用户登出逻辑。
func (h *UserHandler) Logout(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.userService.Logout(c.Request.Context(), middleware.ExtractToken(c)); err != nil {
		log.Error("Logout: Failed to logout", err)
		respond(c, http.StatusInternalServerError, "登出失败", nil)
		return
	}
	log.Infof("User '%s' logged out successfully", user.Username)
	respond(c, http.StatusOK, "登出成功", nil)
}
