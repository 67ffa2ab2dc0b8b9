package rag

import (
	"context"

	"pai-kb-go/pkg/llm"
)

const hydePrompt = "Answer the users question:"

// HypotheticalAnswerGenerator 为问题生成一个假设答案，用它的向量代替问题本身去检索。
type HypotheticalAnswerGenerator struct {
	llm llm.Completer
}

func NewHypotheticalAnswerGenerator(completer llm.Completer) *HypotheticalAnswerGenerator {
	return &HypotheticalAnswerGenerator{llm: completer}
}

func (g *HypotheticalAnswerGenerator) Generate(ctx context.Context, question string) (string, error) {
	return g.llm.Complete(ctx, hydePrompt, question)
}
