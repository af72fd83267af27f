package rag

import (
	"errors"
	"strings"
)

const (
	PlaceholderContext  = "{context}"
	PlaceholderQuestion = "{question}"

	// ContextSeparator joins retrieved chunks inside the prompt.
	ContextSeparator = "\n\n"
)

// DefaultPromptTemplate instructs the model to answer from the retrieved
// context only.
const DefaultPromptTemplate = `You are an expert assistant for the 'Humanoid Robotics' e-book.
Answer the user's question based *only* on the provided context.
If the answer is not in the context, explicitly state that you don't have enough information.
Be concise and clear.

Context:
{context}

Question:
{question}

Answer:`

// ErrInvalidTemplate is returned for a template missing a placeholder.
var ErrInvalidTemplate = errors.New("prompt template must contain {context} and {question}")

// PromptAssembler renders retrieved chunks and a question into a prompt.
type PromptAssembler struct {
	template string
}

// NewPromptAssembler validates the template. An empty template selects
// DefaultPromptTemplate.
func NewPromptAssembler(template string) (*PromptAssembler, error) {
	if template == "" {
		template = DefaultPromptTemplate
	}
	if !strings.Contains(template, PlaceholderContext) || !strings.Contains(template, PlaceholderQuestion) {
		return nil, ErrInvalidTemplate
	}
	return &PromptAssembler{template: template}, nil
}

// Render substitutes the joined chunk contents and the question into the
// template. Both placeholders are replaced in a single pass, so a question
// that itself contains "{context}" is left as written.
func (p *PromptAssembler) Render(chunks []ScoredChunk, question string) string {
	r := strings.NewReplacer(
		PlaceholderContext, JoinContext(chunks),
		PlaceholderQuestion, question,
	)
	return r.Replace(p.template)
}

// JoinContext concatenates chunk contents in retrieval order.
func JoinContext(chunks []ScoredChunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, ContextSeparator)
}
