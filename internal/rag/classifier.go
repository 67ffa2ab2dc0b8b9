// Package rag 实现检索增强：查询分类、假设答案生成以及把检索结果注入到对话请求中。
package rag

import (
	"context"
	"strings"
	"unicode"

	"pai-kb-go/pkg/llm"
)

// Category 是用户消息的分类结果。
type Category string

const (
	CategoryQuestion  Category = "question"
	CategoryStatement Category = "statement"
	CategoryOther     Category = "other"
)

const classifierPrompt = "classify the user message as a question, statement, or other. " +
	"Reply with exactly one word: question, statement, or other."

// QueryClassifier 用一次 LLM 调用判断消息类别，只有 question 才会触发检索。
type QueryClassifier struct {
	llm llm.Completer
}

func NewQueryClassifier(completer llm.Completer) *QueryClassifier {
	return &QueryClassifier{llm: completer}
}

func (c *QueryClassifier) Classify(ctx context.Context, text string) (Category, error) {
	out, err := c.llm.Complete(ctx, classifierPrompt, text)
	if err != nil {
		return CategoryOther, err
	}
	return ParseCategory(out), nil
}

// ParseCategory 取输出中第一个合法的标签，无法识别时归为 other。
func ParseCategory(out string) Category {
	words := strings.FieldsFunc(strings.ToLower(out), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		switch Category(w) {
		case CategoryQuestion, CategoryStatement, CategoryOther:
			return Category(w)
		}
	}
	return CategoryOther
}
