// Package apperr 定义了导入与检索流程中使用的错误类型。
//
// 文件级错误（UnsupportedFormatError、ParseError、EmbeddingServiceError、
// StorageError）在单个文件的处理边界被捕获并写入任务错误列表；
// 请求级错误（ErrUnauthorized、ErrOwnershipViolation 等）由 handler 映射为 HTTP 状态码。
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound       = errors.New("任务不存在或已过期")
	ErrUnauthorized       = errors.New("未认证")
	ErrOwnershipViolation = errors.New("资源不存在或无权操作")
	ErrNotFound           = errors.New("资源不存在")
)

// UnsupportedFormatError 表示文件格式不受支持。
type UnsupportedFormatError struct {
	FileName     string
	DetectedType string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("不支持的文件格式: %s (%s)", e.FileName, e.DetectedType)
}

// ParseError 包装底层解码器的错误。
type ParseError struct {
	FileName string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("文件解析失败: %s (%v)", e.FileName, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// EmbeddingServiceError 表示某个批次在重试耗尽后仍然失败。
type EmbeddingServiceError struct {
	Batch    int
	Attempts int
	Err      error
}

func (e *EmbeddingServiceError) Error() string {
	return fmt.Sprintf("向量化服务失败: batch=%d attempts=%d: %v", e.Batch, e.Attempts, e.Err)
}

func (e *EmbeddingServiceError) Unwrap() error { return e.Err }

// StorageError 表示分块、文件记录或对象存储写入失败。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("存储失败: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage 是构造 StorageError 的快捷方式，err 为 nil 时返回 nil。
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
