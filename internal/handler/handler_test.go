package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/middleware"
	"pai-kb-go/internal/model"
	"pai-kb-go/internal/pipeline"
	"pai-kb-go/internal/progress"
	"pai-kb-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeIngestion struct {
	hub       *progress.Hub
	snapshots map[string]model.TaskSnapshot
	started   []pipeline.UploadedFile
}

func newFakeIngestion() *fakeIngestion {
	return &fakeIngestion{hub: progress.NewHub(8), snapshots: map[string]model.TaskSnapshot{}}
}

func (f *fakeIngestion) StartIngestion(_ context.Context, _ uint, title string, files []pipeline.UploadedFile) (string, string, error) {
	if strings.TrimSpace(title) == "" {
		return "", "", service.ErrTitleRequired
	}
	if len(files) == 0 {
		return "", "", service.ErrNoFiles
	}
	f.started = files
	return "task-1", "kb-1", nil
}

func (f *fakeIngestion) StartTask(context.Context, string, []pipeline.UploadedFile) (string, error) {
	return "task-1", nil
}

func (f *fakeIngestion) GetProgress(_ context.Context, taskID string) (model.TaskSnapshot, error) {
	snap, ok := f.snapshots[taskID]
	if !ok {
		return model.TaskSnapshot{}, apperr.ErrTaskNotFound
	}
	return snap, nil
}

func (f *fakeIngestion) Subscribe(taskID string) *progress.Subscription { return f.hub.Subscribe(taskID) }
func (f *fakeIngestion) Unsubscribe(sub *progress.Subscription)         { f.hub.Unsubscribe(sub) }
func (f *fakeIngestion) Wait()                                          {}

type fakeKnowledge struct {
	files map[string]*model.KnowledgeFile
	data  map[string]string
}

func (f *fakeKnowledge) ListKnowledgeBases(_ context.Context, userID uint) ([]model.KnowledgeBaseDTO, error) {
	return []model.KnowledgeBaseDTO{{ID: "kb-1", Title: "docs", Files: []model.KnowledgeFile{}}}, nil
}

func (f *fakeKnowledge) DeleteKnowledgeBase(_ context.Context, userID uint, kbID string) error {
	switch {
	case kbID != "kb-1":
		return apperr.ErrNotFound
	case userID != 1:
		return apperr.ErrOwnershipViolation
	}
	return nil
}

func (f *fakeKnowledge) OpenFile(_ context.Context, userID uint, path string) (*model.KnowledgeFile, io.ReadCloser, int64, error) {
	file, ok := f.files[path]
	if !ok || userID != 1 {
		return nil, nil, 0, apperr.ErrNotFound
	}
	body := f.data[path]
	return file, io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

// withUser 模拟 AuthMiddleware 注入用户。
func withUser(id uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &model.User{ID: id, Username: "u"})
		c.Next()
	}
}

func newRouter(userID uint, ingestion service.IngestionService, knowledge service.KnowledgeService) *gin.Engine {
	r := gin.New()
	api := r.Group("/api/v1")
	if userID != 0 {
		api.Use(withUser(userID))
	}
	kh := NewKnowledgeHandler(ingestion, knowledge, 1)
	fh := NewFileHandler(knowledge)
	api.POST("/knowledge", kh.Create)
	api.GET("/knowledge", kh.List)
	api.GET("/knowledge/progress", kh.Progress)
	api.GET("/knowledge/progress/stream", kh.ProgressStream)
	api.DELETE("/knowledge/:id", kh.Delete)
	api.GET("/files/*path", fh.Download)
	return r
}

func multipartBody(t *testing.T, title string, files map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	if title != "" {
		require.NoError(t, w.WriteField("title", title))
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestKnowledgeHandler_Create(t *testing.T) {
	ing := newFakeIngestion()
	r := newRouter(1, ing, &fakeKnowledge{})

	body, ct := multipartBody(t, "docs", map[string]string{"a.txt": "hello"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "task-1", data["taskId"])
	assert.Equal(t, "kb-1", data["knowledgeBaseId"])
	require.Len(t, ing.started, 1)
	assert.Equal(t, "a.txt", ing.started[0].Name)
	assert.Equal(t, "hello", string(ing.started[0].Data))
}

func TestKnowledgeHandler_CreateValidation(t *testing.T) {
	r := newRouter(1, newFakeIngestion(), &fakeKnowledge{})

	cases := []struct {
		name  string
		title string
		files map[string]string
		want  int
	}{
		{"missing title", "", map[string]string{"a.txt": "x"}, http.StatusBadRequest},
		{"no files", "docs", nil, http.StatusBadRequest},
		{"too large", "docs", map[string]string{"big.txt": strings.Repeat("x", 2<<20)}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, ct := multipartBody(t, tc.title, tc.files)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	unauth := newRouter(0, newFakeIngestion(), &fakeKnowledge{})
	body, ct := multipartBody(t, "docs", map[string]string{"a.txt": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	unauth.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestKnowledgeHandler_Progress(t *testing.T) {
	ing := newFakeIngestion()
	ing.snapshots["t1"] = model.TaskSnapshot{TaskID: "t1", Total: 2, Processed: 1, Percentage: 50, Errors: []model.FileError{}}
	r := newRouter(1, ing, &fakeKnowledge{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/progress", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/progress?taskId=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/progress?taskId=t1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.EqualValues(t, 50, data["percentage"])
	assert.EqualValues(t, 1, data["processed"])
}

func TestKnowledgeHandler_ProgressStream(t *testing.T) {
	ing := newFakeIngestion()
	ing.snapshots["t1"] = model.TaskSnapshot{TaskID: "t1", Total: 2, Processed: 1, Percentage: 50, Errors: []model.FileError{}}
	r := newRouter(1, ing, &fakeKnowledge{})
	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/knowledge/progress/stream?taskId=t1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"), resp.Header.Get("Content-Type"))

	// 等待订阅生效后发布完成事件
	require.Eventually(t, func() bool { return ing.hub.Subscribers("t1") == 1 }, 2*time.Second, 10*time.Millisecond)
	ing.hub.Publish("t1", model.TaskSnapshot{TaskID: "t1", Total: 2, Processed: 2, Percentage: 100, IsCompleted: true, Errors: []model.FileError{}})

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Equal(t, 2, strings.Count(text, "event:progress"))
	assert.Contains(t, text, `"percentage":50`)
	assert.Contains(t, text, `"isCompleted":true`)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge/progress/stream?taskId=gone", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestKnowledgeHandler_Delete(t *testing.T) {
	owner := newRouter(1, newFakeIngestion(), &fakeKnowledge{})
	other := newRouter(2, newFakeIngestion(), &fakeKnowledge{})

	rec := httptest.NewRecorder()
	other.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/kb-1", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/kb-9", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/knowledge/kb-1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	owner.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/knowledge", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)
}

func TestFileHandler_Download(t *testing.T) {
	kn := &fakeKnowledge{
		files: map[string]*model.KnowledgeFile{"kb-1/f/report.pdf": {FileName: "report.pdf", MimeType: "application/pdf"}},
		data:  map[string]string{"kb-1/f/report.pdf": "%PDF-1.4"},
	}
	r := newRouter(1, newFakeIngestion(), kn)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/kb-1/f/report.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="report.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/kb-1/f/missing.pdf", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	unauth := newRouter(0, newFakeIngestion(), kn)
	rec = httptest.NewRecorder()
	unauth.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/kb-1/f/report.pdf", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
