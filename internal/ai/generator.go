// Package ai generates support replies: a TextGenerator port with an
// OpenAI adapter, mandatory output sanitization, and a coordinator that
// enforces single-flight and the per-ticket rate window.
package ai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// GenerationRequest carries everything the generator needs: the ticket's
// context and subject plus the full conversation since creation.
type GenerationRequest struct {
	TicketContext string
	Subject       string
	Preamble      string
	History       []domain.Message
}

// Generation is one produced reply.
type Generation struct {
	Text       string
	Confidence float64
}

// TextGenerator is the external LLM collaborator.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerationRequest) (*Generation, error)
}

// transientGenError marks a generation failure worth retrying.
type transientGenError struct{ err error }

func (e *transientGenError) Error() string { return e.err.Error() }
func (e *transientGenError) Unwrap() error { return e.err }

// IsTransient reports whether a generation error is retryable.
func IsTransient(err error) bool {
	var te *transientGenError
	return errors.As(err, &te)
}

const defaultPreamble = "You are a helpful customer support assistant. " +
	"Answer from the conversation so far, be concise and polite, and never " +
	"invent account details. If the issue needs a human, say so."

// OpenAIGenerator implements TextGenerator on the chat-completions API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIGenerator creates a generator for the given model.
func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}
}

// Generate implements TextGenerator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerationRequest) (*Generation, error) {
	preamble := req.Preamble
	if preamble == "" {
		preamble = defaultPreamble
	}
	system := fmt.Sprintf("%s\n\nWorkspace: %s\nTicket subject: %s", preamble, req.TicketContext, req.Subject)

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, m := range req.History {
		switch m.Sender {
		case domain.SenderCustomer:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Body})
		case domain.SenderAI, domain.SenderAdmin:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Body})
		}
		// system notes (rate limits, escalations) are operational, not conversation
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: 0.4,
		MaxTokens:   700,
	})
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &transientGenError{err: errors.New("empty completion")}
	}

	choice := resp.Choices[0]
	confidence := 0.9
	if choice.FinishReason != openai.FinishReasonStop {
		confidence = 0.5
	}
	return &Generation{Text: choice.Message.Content, Confidence: confidence}, nil
}

// classifyOpenAI maps API failures onto the retry policy: throttling and
// server errors retry, auth and bad-request do not.
func classifyOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return &transientGenError{err: err}
		}
		return err
	}
	// transport-level failure
	return &transientGenError{err: err}
}
