package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/logger"
)

const (
	// DefaultAskTopK is the number of excerpts an answer is grounded on.
	DefaultAskTopK = 5

	answerMaxTokens = 2048
)

const (
	fallbackAnswerSystem = "You help review construction plans. Answer only from the plan excerpts you are given. " +
		"Say so plainly when they do not cover the question, and cite excerpts by number, e.g. [2]."
	fallbackAnswerQuestion = `Plan excerpts:
%s

Question: %s

Answer from the excerpts above:`
)

type answerer struct {
	llm     driven.LLMService
	prompts driven.PromptStore
	retry   *RetryPolicy
	timeout time.Duration
}

// WithAnswerer enables Ask. prompts and retry may be nil; a zero timeout
// uses the judge's default.
func WithAnswerer(llm driven.LLMService, prompts driven.PromptStore, retry *RetryPolicy, timeout time.Duration) PlanServiceOption {
	return func(s *PlanService) {
		if llm == nil {
			return
		}
		if retry == nil {
			retry = NewRetryPolicy(domain.DefaultAppSettings().Retry)
		}
		if timeout <= 0 {
			timeout = domain.DefaultAppSettings().Judge.Timeout
		}
		s.answerer = &answerer{llm: llm, prompts: prompts, retry: retry, timeout: timeout}
	}
}

// Ask retrieves the topK excerpts of the plan closest to question and has the
// chat model answer from them. topK 0 means DefaultAskTopK.
func (s *PlanService) Ask(ctx context.Context, planID, question string, topK int) (*domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", domain.ErrInvalidArgument)
	}
	if topK == 0 {
		topK = DefaultAskTopK
	}
	if s.answerer == nil {
		return nil, fmt.Errorf("%w: no chat model is configured, set llm.provider", domain.ErrProviderUnavailable)
	}

	logger.Section("Ask")
	evidence, err := s.Query(ctx, planID, question, topK)
	if err != nil {
		return nil, err
	}
	logger.Debug("Answering from %d excerpt(s) of plan %s", len(evidence), planID)

	a := s.answerer
	messages := []driven.ChatMessage{
		{Role: "system", Content: promptOr(a.prompts, driven.PromptAnswerSystem, fallbackAnswerSystem)},
		{Role: "user", Content: fmt.Sprintf(promptOr(a.prompts, driven.PromptAnswerQuestion, fallbackAnswerQuestion),
			formatEvidence(evidence), question)},
	}

	reply, err := chatWithRetry(ctx, a.retry, "answer", a.llm, a.timeout, messages,
		driven.ChatOptions{MaxTokens: answerMaxTokens, Temperature: 0.2})
	if err != nil {
		return nil, fmt.Errorf("answer question on plan %s: %w", planID, err)
	}

	return &domain.Answer{
		PlanID:   planID,
		Question: question,
		Text:     strings.TrimSpace(reply),
		Model:    a.llm.ModelName(),
		Evidence: evidence,
	}, nil
}
