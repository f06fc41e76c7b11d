package services

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// termDims is the vector size of the term-hashing embedding used in tests.
const termDims = 256

// termVector embeds text as a bag of its salient terms, so texts sharing
// terms are similar and texts sharing none are nearly orthogonal.
func termVector(text string) []float32 {
	v := make([]float32, termDims)
	v[0] = 0.01
	for _, term := range SalientTerms(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		v[1+int(h.Sum32()%(termDims-1))]++
	}
	return v
}

// mockEmbeddingProvider embeds with termVector and records every call.
type mockEmbeddingProvider struct {
	mu      sync.Mutex
	model   string
	calls   int
	batches [][]string

	// fail, when set, decides the error of a call. Return nil to succeed.
	fail func(call int, batch []string) error
}

func newMockEmbeddingProvider() *mockEmbeddingProvider {
	return &mockEmbeddingProvider{model: "term-hash"}
}

func (m *mockEmbeddingProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.batches = append(m.batches, append([]string(nil), texts...))
	fail := m.fail
	m.mu.Unlock()

	if fail != nil {
		if err := fail(call, texts); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = termVector(t)
	}
	return out, nil
}

func (m *mockEmbeddingProvider) Dimensions() int { return termDims }
func (m *mockEmbeddingProvider) ModelName() string { return m.model }
func (m *mockEmbeddingProvider) Ping(_ context.Context) error { return nil }
func (m *mockEmbeddingProvider) Close() error { return nil }

func (m *mockEmbeddingProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockEmbeddingProvider) textCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

// mockThrottle records backoffs.
type mockThrottle struct {
	mu       sync.Mutex
	waits    int
	backoffs []int
}

func (m *mockThrottle) Wait(ctx context.Context) error {
	m.mu.Lock()
	m.waits++
	m.mu.Unlock()
	return ctx.Err()
}

func (m *mockThrottle) Backoff(seconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoffs = append(m.backoffs, seconds)
}

// mockPlanStore keeps manifest records in a map.
type mockPlanStore struct {
	mu      sync.Mutex
	records map[string]domain.PlanRecord
	saveErr error
}

func newMockPlanStore() *mockPlanStore {
	return &mockPlanStore{records: make(map[string]domain.PlanRecord)}
}

func (m *mockPlanStore) Save(_ context.Context, record domain.PlanRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[record.ID] = record
	return nil
}

func (m *mockPlanStore) Get(_ context.Context, id string) (*domain.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &r, nil
}

func (m *mockPlanStore) List(_ context.Context) ([]domain.PlanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PlanRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (m *mockPlanStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.records, id)
	return nil
}

// mockJudge returns a fixed judgment, or an error for selected rule keys.
type mockJudge struct {
	mu       sync.Mutex
	judgment domain.Judgment
	failKeys map[string]error
	seen     []string
	evidence map[string][]domain.RetrievalResult
}

func (m *mockJudge) Name() string { return "mock" }

func (m *mockJudge) Judge(_ context.Context, rule domain.DefectRule, evidence []domain.RetrievalResult) (domain.Judgment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, rule.Key())
	if m.evidence == nil {
		m.evidence = make(map[string][]domain.RetrievalResult)
	}
	m.evidence[rule.Key()] = evidence
	if err, ok := m.failKeys[rule.Key()]; ok {
		return domain.Judgment{}, err
	}
	return m.judgment, nil
}

// mockLLM replies from a script, one reply or error per call.
type mockLLM struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	calls    int
	messages [][]driven.ChatMessage
	delay    time.Duration
}

func (m *mockLLM) Chat(ctx context.Context, messages []driven.ChatMessage, _ driven.ChatOptions) (string, error) {
	m.mu.Lock()
	i := m.calls
	m.calls++
	m.messages = append(m.messages, messages)
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return "", m.errs[i]
	}
	if i < len(m.replies) {
		return m.replies[i], nil
	}
	if len(m.replies) > 0 {
		return m.replies[len(m.replies)-1], nil
	}
	return "", nil
}

func (m *mockLLM) ModelName() string { return "mock-chat" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// stubPromptStore serves fixed templates.
type stubPromptStore map[string]string

func (s stubPromptStore) Load(name string) (string, error) {
	p, ok := s[name]
	if !ok {
		return "", domain.ErrNotFound
	}
	return p, nil
}

func (s stubPromptStore) Reload() {}

// instantRetry is a retry policy that records delays instead of sleeping.
func instantRetry(attempts int) (*RetryPolicy, *[]time.Duration) {
	var delays []time.Duration
	p := NewRetryPolicy(domain.RetrySettings{
		MaxAttempts: attempts,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	})
	p.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return p, &delays
}
