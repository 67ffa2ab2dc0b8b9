package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"pai-kb-go/internal/pipeline"
	"pai-kb-go/internal/service"
	"pai-kb-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// 没有新进度时的心跳间隔
const heartbeatInterval = 15 * time.Second

// KnowledgeHandler 负责知识库的创建、导入进度查询、列表与删除。
type KnowledgeHandler struct {
	ingestion   service.IngestionService
	knowledge   service.KnowledgeService
	maxFileSize int64
}

// NewKnowledgeHandler 创建 KnowledgeHandler，maxFileMB <= 0 表示不限制单文件大小。
func NewKnowledgeHandler(ingestion service.IngestionService, knowledge service.KnowledgeService, maxFileMB int64) *KnowledgeHandler {
	return &KnowledgeHandler{
		ingestion:   ingestion,
		knowledge:   knowledge,
		maxFileSize: maxFileMB << 20,
	}
}

// Create 接收 multipart 表单（title, files）并启动导入任务，立即返回任务 ID。
func (h *KnowledgeHandler) Create(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		respond(c, http.StatusBadRequest, "无效的表单数据", nil)
		return
	}
	title := c.PostForm("title")
	headers := append(form.File["files"], form.File["files[]"]...)

	files := make([]pipeline.UploadedFile, 0, len(headers))
	for _, fh := range headers {
		if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
			respond(c, http.StatusBadRequest, fmt.Sprintf("文件 %s 超过大小限制", fh.Filename), nil)
			return
		}
		f, err := readUploadedFile(fh)
		if err != nil {
			log.Warnf("[Knowledge] 读取上传文件失败, file: %s, error: %v", fh.Filename, err)
			respond(c, http.StatusBadRequest, fmt.Sprintf("无法读取文件 %s", fh.Filename), nil)
			return
		}
		files = append(files, f)
	}

	taskID, kbID, err := h.ingestion.StartIngestion(c.Request.Context(), user.ID, title, files)
	if err != nil {
		log.Errorf("[Knowledge] 启动导入失败, user: %d, error: %v", user.ID, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "导入任务已创建", gin.H{
		"taskId":          taskID,
		"knowledgeBaseId": kbID,
	})
}

func readUploadedFile(fh *multipart.FileHeader) (pipeline.UploadedFile, error) {
	src, err := fh.Open()
	if err != nil {
		return pipeline.UploadedFile{}, err
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return pipeline.UploadedFile{}, err
	}
	return pipeline.UploadedFile{
		Name:     fh.Filename,
		MimeType: fh.Header.Get("Content-Type"),
		Data:     data,
	}, nil
}

// Progress 返回任务的当前快照。
func (h *KnowledgeHandler) Progress(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		respond(c, http.StatusBadRequest, "缺少 taskId", nil)
		return
	}
	snap, err := h.ingestion.GetProgress(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", snap)
}

// ProgressStream 以 SSE 推送进度，先发送当前快照，任务完成后结束。
func (h *KnowledgeHandler) ProgressStream(c *gin.Context) {
	taskID := c.Query("taskId")
	if taskID == "" {
		respond(c, http.StatusBadRequest, "缺少 taskId", nil)
		return
	}

	// 先订阅再读快照，避免错过两者之间的完成事件
	sub := h.ingestion.Subscribe(taskID)
	defer h.ingestion.Unsubscribe(sub)

	snap, err := h.ingestion.GetProgress(c.Request.Context(), taskID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	last := snap
	c.SSEvent("progress", snap)
	c.Writer.Flush()
	if snap.IsCompleted {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if !ev.IsCompleted && ev.Processed <= last.Processed {
				continue
			}
			last = ev
			c.SSEvent("progress", ev)
			c.Writer.Flush()
			if ev.IsCompleted {
				return
			}
		case <-ticker.C:
			if _, err := io.WriteString(c.Writer, ": heartbeat\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// List 返回当前用户的知识库及其文件。
func (h *KnowledgeHandler) List(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	kbs, err := h.knowledge.ListKnowledgeBases(c.Request.Context(), user.ID)
	if err != nil {
		log.Error("[Knowledge] 查询知识库列表失败", err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "success", kbs)
}

// Delete 删除知识库，非所有者返回 403。
func (h *KnowledgeHandler) Delete(c *gin.Context) {
	user, ok := currentUser(c)
	if !ok {
		return
	}
	kbID := c.Param("id")
	if err := h.knowledge.DeleteKnowledgeBase(c.Request.Context(), user.ID, kbID); err != nil {
		log.Warnf("[Knowledge] 删除知识库失败, kb: %s, user: %d, error: %v", kbID, user.ID, err)
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, "知识库删除成功", nil)
}

