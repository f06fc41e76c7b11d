package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure judges implement the interface.
var (
	_ driven.Judge = (*KeywordJudge)(nil)
	_ driven.Judge = (*SimilarityJudge)(nil)
	_ driven.Judge = (*ModelJudge)(nil)
)

// NewJudge builds the judge selected by settings.Kind.
// The model judge needs llm; the heuristic judges ignore it.
func NewJudge(settings domain.JudgeSettings, llm driven.LLMService, prompts driven.PromptStore, retry *RetryPolicy) (driven.Judge, error) {
	switch settings.Kind {
	case domain.JudgeKeyword:
		return NewKeywordJudge(settings.KeywordMinCoverage), nil
	case domain.JudgeSimilarity:
		return NewSimilarityJudge(settings.SimilarityThreshold, settings.SimilarityFloor), nil
	case domain.JudgeModel:
		if llm == nil {
			return nil, fmt.Errorf("%w: judge %q needs an llm", domain.ErrProviderUnavailable, settings.Kind)
		}
		return NewModelJudge(llm, prompts, retry, settings.Timeout), nil
	default:
		return nil, fmt.Errorf("%w: unknown judge %q", domain.ErrInvalidArgument, settings.Kind)
	}
}

// KeywordJudge decides by how many of the scenario's salient terms the evidence mentions.
// Full coverage means the plan addresses the topic; none means it is silent about it.
type KeywordJudge struct {
	minCoverage float64
}

// NewKeywordJudge creates a keyword judge. Coverage at or above minCoverage is absent.
func NewKeywordJudge(minCoverage float64) *KeywordJudge {
	if minCoverage <= 0 || minCoverage > 1 {
		minCoverage = domain.DefaultAppSettings().Judge.KeywordMinCoverage
	}
	return &KeywordJudge{minCoverage: minCoverage}
}

// Name identifies the judge in reports.
func (j *KeywordJudge) Name() string {
	return string(domain.JudgeKeyword)
}

// Judge scores the scenario's term coverage in the evidence.
func (j *KeywordJudge) Judge(_ context.Context, rule domain.DefectRule, evidence []domain.RetrievalResult) (domain.Judgment, error) {
	if len(evidence) == 0 {
		return domain.Judgment{
			Verdict:    domain.VerdictPresent,
			Rationale:  "no plan text was retrieved for this topic",
			Confidence: 0.5,
		}, nil
	}

	terms := SalientTerms(rule.Scenario)
	if len(terms) == 0 {
		return domain.Judgment{
			Verdict:    domain.VerdictUncertain,
			Rationale:  "scenario has no salient terms to match",
			Confidence: 0,
		}, nil
	}

	var text strings.Builder
	for _, e := range evidence {
		text.WriteString(strings.ToLower(e.Chunk.Text))
		text.WriteByte('\n')
	}
	haystack := text.String()

	var found []string
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			found = append(found, term)
		}
	}
	coverage := float64(len(found)) / float64(len(terms))

	switch {
	case coverage >= j.minCoverage:
		return domain.Judgment{
			Verdict:    domain.VerdictAbsent,
			Rationale:  fmt.Sprintf("evidence mentions %d of %d scenario terms (%s)", len(found), len(terms), strings.Join(found, ", ")),
			Confidence: coverage,
		}, nil
	case coverage == 0:
		return domain.Judgment{
			Verdict:    domain.VerdictPresent,
			Rationale:  fmt.Sprintf("evidence mentions none of the scenario terms (%s)", strings.Join(terms, ", ")),
			Confidence: 1 - j.minCoverage/2,
		}, nil
	default:
		return domain.Judgment{
			Verdict:    domain.VerdictUncertain,
			Rationale:  fmt.Sprintf("evidence mentions only %d of %d scenario terms (%s)", len(found), len(terms), strings.Join(found, ", ")),
			Confidence: 0.5,
		}, nil
	}
}

// stopTerms are function words dropped from salient terms.
var stopTerms = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "not": true, "are": true,
	"was": true, "has": true, "have": true, "been": true, "this": true, "that": true,
	"from": true, "into": true, "any": true, "all": true, "its": true, "per": true,
}

// stopHan are CJK characters that carry no topic on their own.
// Bigrams containing one are dropped.
const stopHan = "的了和或及与未不无是在有对等其应须为"

// SalientTerms extracts the matchable terms of a scenario:
// CJK bigrams and lowercase latin words of three or more characters, stop words dropped.
// A lone CJK character between non-CJK text is kept as a term.
func SalientTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(term string) {
		if !seen[term] {
			seen[term] = true
			terms = append(terms, term)
		}
	}

	flushHan := func(run []rune) {
		if len(run) == 1 {
			if !strings.ContainsRune(stopHan, run[0]) {
				add(string(run))
			}
			return
		}
		for i := 0; i+1 < len(run); i++ {
			if strings.ContainsRune(stopHan, run[i]) || strings.ContainsRune(stopHan, run[i+1]) {
				continue
			}
			add(string(run[i : i+2]))
		}
	}
	flushWord := func(word []rune) {
		w := strings.ToLower(string(word))
		if len(word) >= 3 && !stopTerms[w] {
			add(w)
		}
	}

	var han, word []rune
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			if len(word) > 0 {
				flushWord(word)
				word = word[:0]
			}
			han = append(han, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(han) > 0 {
				flushHan(han)
				han = han[:0]
			}
			word = append(word, r)
		default:
			if len(han) > 0 {
				flushHan(han)
				han = han[:0]
			}
			if len(word) > 0 {
				flushWord(word)
				word = word[:0]
			}
		}
	}
	if len(han) > 0 {
		flushHan(han)
	}
	if len(word) > 0 {
		flushWord(word)
	}

	return terms
}

// SimilarityJudge decides from the best evidence similarity alone.
type SimilarityJudge struct {
	threshold float64
	floor     float64
}

// NewSimilarityJudge creates a similarity judge.
// Top similarity at or above threshold is absent; below floor is present.
func NewSimilarityJudge(threshold, floor float64) *SimilarityJudge {
	if floor > threshold {
		floor = threshold
	}
	return &SimilarityJudge{threshold: threshold, floor: floor}
}

// Name identifies the judge in reports.
func (j *SimilarityJudge) Name() string {
	return string(domain.JudgeSimilarity)
}

// Judge compares the best evidence similarity against the thresholds.
func (j *SimilarityJudge) Judge(_ context.Context, _ domain.DefectRule, evidence []domain.RetrievalResult) (domain.Judgment, error) {
	if len(evidence) == 0 {
		return domain.Judgment{
			Verdict:    domain.VerdictPresent,
			Rationale:  "no plan text was retrieved for this topic",
			Confidence: 0.5,
		}, nil
	}

	top := evidence[0].Similarity
	for _, e := range evidence[1:] {
		if e.Similarity > top {
			top = e.Similarity
		}
	}

	switch {
	case top >= j.threshold:
		return domain.Judgment{
			Verdict:    domain.VerdictAbsent,
			Rationale:  fmt.Sprintf("closest plan text has similarity %.3f, at or above %.2f", top, j.threshold),
			Confidence: clamp01(top),
		}, nil
	case top < j.floor:
		return domain.Judgment{
			Verdict:    domain.VerdictPresent,
			Rationale:  fmt.Sprintf("closest plan text has similarity %.3f, below %.2f", top, j.floor),
			Confidence: clamp01(1 - top),
		}, nil
	default:
		return domain.Judgment{
			Verdict:    domain.VerdictUncertain,
			Rationale:  fmt.Sprintf("closest plan text has similarity %.3f, between %.2f and %.2f", top, j.floor, j.threshold),
			Confidence: 0.5,
		}, nil
	}
}

// Fallback prompts, used without a prompt store.
const (
	fallbackJudgeSystem = "You review construction plans for quality defects. Judge only from the plan excerpts you are given."
	fallbackJudgeRule   = `Category: %s
Defect scenario: %s

Plan excerpts:
%s

Answer in this format:
Verdict: present | absent | uncertain
Confidence: a number between 0 and 1
Rationale: the excerpts and reasoning behind the verdict`
)

// judgeMaxTokens bounds the model's answer.
const judgeMaxTokens = 1024

// ModelJudge delegates the verdict to a chat model.
type ModelJudge struct {
	llm     driven.LLMService
	prompts driven.PromptStore
	retry   *RetryPolicy
	timeout time.Duration
}

// NewModelJudge creates a delegated model judge.
// prompts may be nil, in which case built-in English prompts are used.
func NewModelJudge(llm driven.LLMService, prompts driven.PromptStore, retry *RetryPolicy, timeout time.Duration) *ModelJudge {
	if retry == nil {
		retry = NewRetryPolicy(domain.DefaultAppSettings().Retry)
	}
	if timeout <= 0 {
		timeout = domain.DefaultAppSettings().Judge.Timeout
	}
	return &ModelJudge{
		llm:     llm,
		prompts: prompts,
		retry:   retry,
		timeout: timeout,
	}
}

// Name identifies the judge and its model in reports.
func (j *ModelJudge) Name() string {
	return string(domain.JudgeModel) + ":" + j.llm.ModelName()
}

// Judge asks the model for a verdict on rule given the evidence.
// Without evidence the model is not called and the verdict is uncertain.
func (j *ModelJudge) Judge(ctx context.Context, rule domain.DefectRule, evidence []domain.RetrievalResult) (domain.Judgment, error) {
	if len(evidence) == 0 {
		return domain.Judgment{
			Verdict:   domain.VerdictUncertain,
			Rationale: "no plan text was retrieved for this topic",
		}, nil
	}

	messages := []driven.ChatMessage{
		{Role: "system", Content: j.loadPrompt(driven.PromptJudgeSystem, fallbackJudgeSystem)},
		{Role: "user", Content: fmt.Sprintf(j.loadPrompt(driven.PromptJudgeRule, fallbackJudgeRule),
			rule.Category, rule.Scenario, formatEvidence(evidence))},
	}

	reply, err := chatWithRetry(ctx, j.retry, "judge "+rule.Key(), j.llm, j.timeout, messages,
		driven.ChatOptions{MaxTokens: judgeMaxTokens, Temperature: 0.1})
	if err != nil {
		return domain.Judgment{}, err
	}

	return ParseJudgment(reply), nil
}

// chatWithRetry sends messages under retry, bounding each attempt by timeout.
// An empty reply is malformed and retried.
func chatWithRetry(
	ctx context.Context,
	retry *RetryPolicy,
	name string,
	llm driven.LLMService,
	timeout time.Duration,
	messages []driven.ChatMessage,
	opts driven.ChatOptions,
) (string, error) {
	var reply string
	_, err := retry.Do(ctx, name, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := llm.Chat(callCtx, messages, opts)
		if err != nil {
			// The per-call timeout is transient; the caller's own deadline is not.
			if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s timed out after %s", domain.ErrProviderTransient, name, timeout)
			}
			return err
		}
		if strings.TrimSpace(out) == "" {
			return fmt.Errorf("%w: empty reply to %s", domain.ErrMalformedResponse, name)
		}
		reply = out
		return nil
	})
	return reply, err
}

func (j *ModelJudge) loadPrompt(name, fallback string) string {
	return promptOr(j.prompts, name, fallback)
}

// promptOr loads name from prompts, or returns fallback when there is no usable template.
func promptOr(prompts driven.PromptStore, name, fallback string) string {
	if prompts == nil {
		return fallback
	}
	prompt, err := prompts.Load(name)
	if err != nil || prompt == "" {
		return fallback
	}
	return prompt
}

// formatEvidence numbers the excerpts the way the prompt refers to them.
func formatEvidence(evidence []domain.RetrievalResult) string {
	var b strings.Builder
	for i, e := range evidence {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (similarity %.3f)\n%s", i+1, e.Similarity, strings.TrimSpace(e.Chunk.Text))
	}
	return b.String()
}

// Reply parsing.
var (
	verdictLinePattern = regexp.MustCompile(`(?im)^[\s>*#-]*(?:\d+[.、]\s*)?(?:verdict|合规性判断|判断结果|结论)\s*[:：]\s*(.+)$`)
	confidencePattern  = regexp.MustCompile(`(?i)(?:置信度|confidence)\s*[:：]\s*\[?\s*([0-9]*\.?[0-9]+)`)
	rationalePattern   = regexp.MustCompile(`(?is)(?:判断依据|rationale)\s*[:：]\s*(.+)`)
)

// verdictFamily maps answer keywords to a verdict. Families are checked in order,
// so "不合规" wins over its substring "合规".
type verdictFamily struct {
	verdict  domain.Verdict
	keywords []string
}

var verdictFamilies = []verdictFamily{
	{domain.VerdictPresent, []string{"不合规", "非合规", "不符合", "缺失", "non-compliant", "noncompliant", "not compliant"}},
	{domain.VerdictPresent, []string{"部分", "不够", "有待改进", "partial"}},
	{domain.VerdictAbsent, []string{"合规", "符合要求", "满足标准", "完整", "compliant"}},
	{domain.VerdictUncertain, []string{"无法判断", "信息不足", "不清楚", "unable to judge", "insufficient"}},
}

// defaultConfidence is used when the reply states none.
const defaultConfidence = 0.5

// ParseJudgment reads a verdict, confidence and rationale from a model reply.
// The verdict comes from a "Verdict:" (or 合规性判断) line when there is one,
// otherwise from keywords anywhere in the reply; a reply without any is compliant.
func ParseJudgment(reply string) domain.Judgment {
	reply = strings.TrimSpace(reply)

	verdict, ok := domain.Verdict(""), false
	if m := verdictLinePattern.FindStringSubmatch(reply); m != nil {
		verdict, ok = classifyVerdict(m[1], true)
	}
	if !ok {
		verdict, ok = classifyVerdict(reply, false)
	}
	if !ok {
		verdict = domain.VerdictAbsent
	}

	confidence := defaultConfidence
	if m := confidencePattern.FindStringSubmatch(reply); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			confidence = clamp01(f)
		}
	}

	rationale := reply
	if m := rationalePattern.FindStringSubmatch(reply); m != nil {
		if r := strings.TrimSpace(m[1]); r != "" {
			rationale = r
		}
	}

	return domain.Judgment{
		Verdict:    verdict,
		Rationale:  rationale,
		Confidence: confidence,
	}
}

// classifyVerdict maps text to a verdict. Exact verdict words are only
// trusted on a verdict line, where they cannot be part of prose.
func classifyVerdict(text string, verdictLine bool) (domain.Verdict, bool) {
	lower := strings.ToLower(text)

	if verdictLine {
		word := strings.Trim(strings.TrimSpace(lower), "[]()*`\"'.。")
		if v := domain.Verdict(word); v.IsValid() {
			return v, true
		}
	}

	for _, family := range verdictFamilies {
		for _, kw := range family.keywords {
			if strings.Contains(lower, kw) {
				return family.verdict, true
			}
		}
	}
	return "", false
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
