package driven

// PromptStore provides access to the chat model's prompt templates.
// Implementations may load prompts from files or fall back to built-in defaults.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names.
const (
	// PromptJudgeSystem is the system prompt of the delegated model judge. No placeholders.
	PromptJudgeSystem = "judge_system"

	// PromptJudgeRule asks for a verdict on one rule.
	// Placeholders, in order: %s category, %s scenario, %s numbered evidence.
	PromptJudgeRule = "judge_rule"

	// PromptAnswerSystem frames plan question answering. No placeholders.
	PromptAnswerSystem = "answer_system"

	// PromptAnswerQuestion asks one question about a plan.
	// Placeholders, in order: %s numbered excerpts, %s question.
	PromptAnswerQuestion = "answer_question"
)
