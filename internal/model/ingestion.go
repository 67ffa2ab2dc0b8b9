package model

import "time"

// FileError 记录单个文件的失败原因。
type FileError struct {
	FileName string `json:"fileName"`
	Message  string `json:"message"`
}

// TaskSnapshot 是导入任务在某一时刻的进度快照，也是推送给客户端的事件结构。
type TaskSnapshot struct {
	TaskID          string      `json:"taskId"`
	KnowledgeBaseID string      `json:"knowledgeBaseId"`
	Total           int         `json:"total"`
	Processed       int         `json:"processed"`
	Percentage      int         `json:"percentage"`
	Errors          []FileError `json:"errors"`
	IsCompleted     bool        `json:"isCompleted"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
}

// Clone 返回一个与原快照不共享 Errors 底层数组的副本。
func (s TaskSnapshot) Clone() TaskSnapshot {
	out := s
	out.Errors = make([]FileError, len(s.Errors))
	copy(out.Errors, s.Errors)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
