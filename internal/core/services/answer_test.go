package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/adapters/driven/vector/flat"
	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/normalisers"
	"github.com/custodia-labs/planaudit/internal/postprocessors/chunker"
)

var siteChunks = []string{
	"Concrete mix design and curing schedule.",
	"Crane positions for the steel erection.",
	"Safety measures are posted at the site gate.",
	"Excavation shoring and dewatering sequence.",
	"Waste removal and site cleaning routine.",
}

// newAskService uploads the five-chunk site plan into a service that answers with llm.
func newAskService(t *testing.T, llm driven.LLMService, prompts driven.PromptStore) (*planFixture, *PlanService, string) {
	t.Helper()
	f := newPlanFixture()
	retry, _ := instantRetry(2)
	svc := NewPlanService(
		normalisers.Default(),
		chunker.New(chunker.WithChunkSize(50), chunker.WithOverlap(0)),
		f.embedder,
		flat.Builder{},
		f.sessions,
		WithAnswerer(llm, prompts, retry, 0),
	)

	upload, err := svc.UploadText(context.Background(), "site.txt", strings.Join(siteChunks, "\n\n"))
	require.NoError(t, err)
	require.Equal(t, 5, upload.ChunkCount)
	return f, svc, upload.PlanID
}

func TestPlanService_Ask(t *testing.T) {
	prompts := stubPromptStore{
		driven.PromptAnswerSystem:   "审核助手",
		driven.PromptAnswerQuestion: "内容\n%s\n问题：%s",
	}
	llm := &mockLLM{replies: []string{"  依据[1]，安全措施张贴在大门处。\n"}}
	_, svc, planID := newAskService(t, llm, prompts)

	answer, err := svc.Ask(context.Background(), planID, " safety measures ", 2)
	require.NoError(t, err)

	assert.Equal(t, planID, answer.PlanID)
	assert.Equal(t, "safety measures", answer.Question)
	assert.Equal(t, "依据[1]，安全措施张贴在大门处。", answer.Text)
	assert.Equal(t, "mock-chat", answer.Model)
	require.Len(t, answer.Evidence, 2)
	assert.Equal(t, 2, answer.Evidence[0].Chunk.Index)
	assert.Equal(t, 1, answer.Evidence[0].Rank)

	require.Len(t, llm.messages, 1)
	msgs := llm.messages[0]
	assert.Equal(t, "审核助手", msgs[0].Content)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "内容\n[1] (similarity "), msgs[1].Content)
	assert.Contains(t, msgs[1].Content, siteChunks[2])
	assert.True(t, strings.HasSuffix(msgs[1].Content, "问题：safety measures"))
}

func TestPlanService_Ask_DefaultsAndFallbackPrompts(t *testing.T) {
	llm := &mockLLM{replies: []string{"answer"}}
	_, svc, planID := newAskService(t, llm, nil)

	answer, err := svc.Ask(context.Background(), planID, "crane", 0)
	require.NoError(t, err)

	assert.Len(t, answer.Evidence, DefaultAskTopK)
	msgs := llm.messages[0]
	assert.Equal(t, fallbackAnswerSystem, msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "Question: crane")
}

func TestPlanService_Ask_RetriesTransientFailures(t *testing.T) {
	llm := &mockLLM{
		errs:    []error{domain.ErrProviderTransient},
		replies: []string{"", "second try"},
	}
	_, svc, planID := newAskService(t, llm, nil)

	answer, err := svc.Ask(context.Background(), planID, "crane", 1)
	require.NoError(t, err)
	assert.Equal(t, "second try", answer.Text)
	assert.Equal(t, 2, llm.callCount())
}

func TestPlanService_Ask_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("empty question", func(t *testing.T) {
		llm := &mockLLM{replies: []string{"x"}}
		_, svc, planID := newAskService(t, llm, nil)

		_, err := svc.Ask(ctx, planID, "   ", 3)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		assert.Zero(t, llm.callCount())
	})

	t.Run("unknown plan", func(t *testing.T) {
		llm := &mockLLM{replies: []string{"x"}}
		_, svc, _ := newAskService(t, llm, nil)

		_, err := svc.Ask(ctx, "0000000000000000", "crane", 3)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Zero(t, llm.callCount())
	})

	t.Run("empty replies exhaust retries", func(t *testing.T) {
		llm := &mockLLM{replies: []string{""}}
		_, svc, planID := newAskService(t, llm, nil)

		_, err := svc.Ask(ctx, planID, "crane", 3)
		assert.ErrorIs(t, err, domain.ErrMalformedResponse)
		assert.Equal(t, 2, llm.callCount())
	})

	t.Run("no chat model", func(t *testing.T) {
		f := newPlanFixture()
		upload, err := f.service.UploadText(ctx, "site.txt", strings.Join(siteChunks, "\n\n"))
		require.NoError(t, err)
		calls := f.provider.callCount()

		_, err = f.service.Ask(ctx, upload.PlanID, "crane", 3)
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
		assert.Equal(t, calls, f.provider.callCount())
	})
}

func TestPlanService_Clear(t *testing.T) {
	f := newPlanFixture()
	ctx := context.Background()
	_, err := f.service.UploadText(ctx, "a.txt", "scaffold plan")
	require.NoError(t, err)
	_, err = f.service.UploadText(ctx, "b.txt", "crane plan")
	require.NoError(t, err)
	calls := f.provider.callCount()

	assert.Equal(t, 2, f.service.Clear(ctx))
	assert.Empty(t, f.service.List(ctx))

	records, err := f.service.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	again, err := f.service.UploadText(ctx, "a.txt", "scaffold plan")
	require.NoError(t, err)
	assert.False(t, again.Reused)
	assert.Equal(t, calls, f.provider.callCount())
}
