package pipeline

import (
	"strings"
	"unicode/utf8"
)

// DefaultChunkSize 是单个分块的默认最大字符数（按 rune 计）。
const DefaultChunkSize = 1000

// 按优先级排列的分隔符：段落、换行、句末标点、空格。都不可用时按字符硬切。
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", "。", "！", "？", " "}

// Chunker 把文本切成有序、长度不超过 MaxChunkSize 的分块。
type Chunker struct {
	MaxChunkSize int
	separators   []string
}

func NewChunker(maxChunkSize int) *Chunker {
	if maxChunkSize <= 0 {
		maxChunkSize = DefaultChunkSize
	}
	return &Chunker{MaxChunkSize: maxChunkSize, separators: defaultSeparators}
}

// Split 返回的分块按原文顺序排列，依次拼接即得到原文（去掉纯空白分块后）。
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	pieces := c.splitRecursive(text, 0)

	var (
		segments []string
		current  strings.Builder
		size     int
	)
	flush := func() {
		if current.Len() == 0 {
			return
		}
		if s := current.String(); strings.TrimSpace(s) != "" {
			segments = append(segments, s)
		}
		current.Reset()
		size = 0
	}
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if size+n > c.MaxChunkSize {
			flush()
		}
		current.WriteString(p)
		size += n
	}
	flush()
	return segments
}

// splitRecursive 返回长度都不超过上限的片段，片段拼接等于 text。
func (c *Chunker) splitRecursive(text string, level int) []string {
	if utf8.RuneCountInString(text) <= c.MaxChunkSize {
		return []string{text}
	}
	if level >= len(c.separators) {
		return hardSplit(text, c.MaxChunkSize)
	}

	parts := splitKeepSeparator(text, c.separators[level])
	if len(parts) == 1 {
		return c.splitRecursive(text, level+1)
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if utf8.RuneCountInString(p) <= c.MaxChunkSize {
			out = append(out, p)
			continue
		}
		out = append(out, c.splitRecursive(p, level+1)...)
	}
	return out
}

// splitKeepSeparator 按 sep 切分，分隔符保留在前一段的末尾。
func splitKeepSeparator(text, sep string) []string {
	var parts []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			break
		}
		parts = append(parts, text[:i+len(sep)])
		text = text[i+len(sep):]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

func hardSplit(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
