package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"pai-kb-go/internal/apperr"
	"pai-kb-go/internal/model"
	"pai-kb-go/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChunkStore struct {
	mu       sync.Mutex
	saved    []model.EmbeddedChunk
	deleted  []string
	failSave bool
}

func (s *fakeChunkStore) SaveChunks(_ context.Context, chunks []model.EmbeddedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("es unavailable")
	}
	s.saved = append(s.saved, chunks...)
	return nil
}

func (s *fakeChunkStore) DeleteByFile(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, fileID)
	return nil
}

func (s *fakeChunkStore) DeleteByKnowledgeBase(context.Context, string) error { return nil }

func (s *fakeChunkStore) Search(context.Context, []string, []float32, int) ([]model.ChunkHit, error) {
	return nil, nil
}

type fakeKBRepo struct {
	mu    sync.Mutex
	files []model.KnowledgeFile
}

func (r *fakeKBRepo) Create(context.Context, *model.KnowledgeBase) error { return nil }
func (r *fakeKBRepo) FindByID(context.Context, string) (*model.KnowledgeBase, error) {
	return nil, apperr.ErrNotFound
}
func (r *fakeKBRepo) ListByUser(context.Context, uint) ([]model.KnowledgeBase, error) {
	return nil, nil
}
func (r *fakeKBRepo) Delete(context.Context, string) error { return nil }
func (r *fakeKBRepo) CreateFile(_ context.Context, f *model.KnowledgeFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, *f)
	return nil
}
func (r *fakeKBRepo) FindFileByPath(context.Context, string) (*model.KnowledgeFile, error) {
	return nil, apperr.ErrNotFound
}

func newTestProcessor(chunks *fakeChunkStore, kbRepo *fakeKBRepo, objects storage.ObjectStore) *Processor {
	return NewProcessor(
		NewDocumentParser(),
		NewChunker(1000),
		NewEmbeddingBatcher(&flakyEmbedder{}, BatcherOptions{BatchSize: 32, MaxAttempts: 1}),
		objects, chunks, kbRepo, "test-model",
	)
}

func TestProcess_PlainTextFile(t *testing.T) {
	chunks := &fakeChunkStore{}
	kbRepo := &fakeKBRepo{}
	objects := storage.NewMemoryStore()
	p := newTestProcessor(chunks, kbRepo, objects)

	text := strings.Repeat("word ", 400)
	rec, err := p.Process(context.Background(), "kb1", UploadedFile{Name: "a.txt", MimeType: "text/plain", Data: []byte(text)})
	require.NoError(t, err)

	require.Len(t, chunks.saved, 2)
	assert.Equal(t, 0, chunks.saved[0].Chunk.ChunkIndex)
	assert.Equal(t, 1, chunks.saved[1].Chunk.ChunkIndex)
	assert.Equal(t, rec.ID, chunks.saved[0].Chunk.FileID)
	assert.Equal(t, "test-model", chunks.saved[0].Chunk.ModelVersion)
	require.Len(t, kbRepo.files, 1)
	assert.EqualValues(t, 2000, kbRepo.files[0].FileSize)

	_, _, err = objects.Get(context.Background(), rec.FilePath)
	assert.NoError(t, err)
}

func TestProcess_UnsupportedLeavesNothing(t *testing.T) {
	chunks := &fakeChunkStore{}
	kbRepo := &fakeKBRepo{}
	objects := storage.NewMemoryStore()
	p := newTestProcessor(chunks, kbRepo, objects)

	_, err := p.Process(context.Background(), "kb1", UploadedFile{Name: "x.exe", MimeType: "application/x-msdownload", Data: []byte{'M', 'Z', 0}})
	var uerr *apperr.UnsupportedFormatError
	require.ErrorAs(t, err, &uerr)
	assert.Empty(t, chunks.saved)
	assert.Empty(t, kbRepo.files)
}

func TestProcess_ChunkSaveFailureCleansUp(t *testing.T) {
	chunks := &fakeChunkStore{failSave: true}
	kbRepo := &fakeKBRepo{}
	p := newTestProcessor(chunks, kbRepo, storage.NewMemoryStore())

	_, err := p.Process(context.Background(), "kb1", UploadedFile{Name: "a.md", MimeType: "", Data: []byte("# hi\n\nthere")})
	var serr *apperr.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Len(t, chunks.deleted, 1)
	assert.Empty(t, kbRepo.files)
}

func TestProcess_EmptyText(t *testing.T) {
	p := newTestProcessor(&fakeChunkStore{}, &fakeKBRepo{}, storage.NewMemoryStore())
	_, err := p.Process(context.Background(), "kb1", UploadedFile{Name: "blank.txt", MimeType: "text/plain", Data: []byte("  \n ")})
	var perr *apperr.ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "kb/f/report.pdf", ObjectKey("kb", "f", "../../report.pdf"))
}
