package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"pai-kb-go/internal/service"
	"pai-kb-go/pkg/log"
	"pai-kb-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责对话管理和 WebSocket 流式问答。
type ChatHandler struct {
	chatService service.ChatService
	userService service.UserService
	jwtManager  *token.JWTManager
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// CreateChatRequest 是创建对话的请求体。
type CreateChatRequest struct {
	Title            string   `json:"title" binding:"required"`
	KnowledgeBaseIDs []string `json:"knowledgeBaseIds"`
}

func (h *ChatHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, "无效的请求负载：title 不能为空", nil)
		return
	}
	chat, err := h.chatService.CreateChat(c.Request.Context(), user.ID, req.Title, req.KnowledgeBaseIDs)
	if err != nil {
		log.Warnf("[Chat] 创建对话失败, user: %d, error: %v", user.ID, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", chat)
}

func (h *ChatHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	chats, err := h.chatService.ListChats(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", chats)
}

func (h *ChatHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	if err := h.chatService.DeleteChat(c.Request.Context(), user.ID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "对话删除成功", nil)
}

// Messages 返回对话的历史消息。
func (h *ChatHandler) Messages(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	msgs, err := h.chatService.ListMessages(c.Request.Context(), user.ID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", msgs)
}

// inboundMessage 是客户端发来的一帧。
type inboundMessage struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

// wsChunkWriter 把回答片段包装成 {"chunk":"..."} 帧。
type wsChunkWriter struct {
	conn *websocket.Conn
}

func (w *wsChunkWriter) WriteChunk(content string) error {
	return w.conn.WriteJSON(map[string]string{"chunk": content})
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(conn *websocket.Conn) {
	_ = conn.WriteJSON(map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": time.Now().UnixMilli(),
	})
}

// Handle 处理 /chat/:token 上的 WebSocket 连接，每条文本帧触发一次问答。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyAccessToken(tokenString)
	if err != nil {
		respond(c, http.StatusUnauthorized, "无效的 token", nil)
		return
	}
	if out, err := h.userService.IsLoggedOut(c.Request.Context(), tokenString); err == nil && out {
		respond(c, http.StatusUnauthorized, "token 已注销", nil)
		return
	}
	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		respond(c, http.StatusUnauthorized, "用户不存在", nil)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()
	log.Infof("WebSocket 连接已建立，用户: %s", user.Username)

	ctx := c.Request.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("从 WebSocket 读取消息失败: %v", err)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.ChatID == "" {
			_ = conn.WriteJSON(map[string]string{"error": "消息格式错误，需要 {chatId, content}"})
			continue
		}

		_, err = h.chatService.StreamAnswer(ctx, user.ID, msg.ChatID, msg.Content, &wsChunkWriter{conn: conn})
		if err != nil {
			log.Errorf("处理流式响应失败, chat: %s, error: %v", msg.ChatID, err)
			message := "AI服务暂时不可用，请稍后重试"
			if statusFor(err) != http.StatusInternalServerError {
				message = err.Error()
			}
			if werr := conn.WriteJSON(map[string]string{"error": message}); werr != nil {
				return
			}
		}
		sendCompletion(conn)
	}
}
