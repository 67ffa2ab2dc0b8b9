package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"pai-kb-go/internal/service"
	"pai-kb-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// FileHandler 提供原始文件下载。
type FileHandler struct {
	knowledge service.KnowledgeService
}

func NewFileHandler(knowledge service.KnowledgeService) *FileHandler {
	return &FileHandler{knowledge: knowledge}
}

// Download 以附件形式返回 /files/*path 对应的原始文件。
func (h *FileHandler) Download(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	path := strings.TrimPrefix(c.Param("path"), "/")
	if path == "" {
		respond(c, http.StatusNotFound, "文件不存在", nil)
		return
	}

	file, rc, size, err := h.knowledge.OpenFile(c.Request.Context(), user.ID, path)
	if err != nil {
		respondError(c, err)
		return
	}
	defer rc.Close()

	contentType := file.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.FileName))
	if size >= 0 {
		c.Header("Content-Length", strconv.FormatInt(size, 10))
	}
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		log.Warnf("[File] 下载中断, path: %s, error: %v", path, err)
	}
}
