package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/logger"
)

var _ driven.PromptStore = (*PromptStore)(nil)

// PromptStore loads chat prompts from user-editable files on disk,
// falling back to built-in defaults. The directory and default files are
// created on first use.
type PromptStore struct {
	mu        sync.RWMutex
	promptDir string
	cache     map[string]string
	initOnce  sync.Once
	initErr   error
}

// defaultPrompts seed the prompt directory and back up unusable files.
//
//nolint:lll // Prompt content is intentionally long and should not be wrapped.
var defaultPrompts = map[string]string{
	driven.PromptJudgeSystem: `你是一位专业的建设工程质量审查专家。请基于提供的施工方案内容，判断是否存在指定的缺陷情形。`,

	driven.PromptJudgeRule: `请分析以下施工方案内容，判断是否存在指定的缺陷情形。

【检查项分类】: %s
【缺陷情形】: %s

【施工方案相关内容】:
%s

请按以下格式回答：
1. 合规性判断：[合规/不合规/无法判断]
2. 置信度：[0.1-1.0之间的数值]
3. 判断依据：[详细说明分析过程和依据]

注意：
- 如果方案中有相关的规定或措施来避免该缺陷，则判断为"合规"
- 如果方案中明显缺失相关内容或存在问题，则判断为"不合规"
- 如果提供的内容不足以作出判断，则判断为"无法判断"
- 置信度反映你对判断结果的确信程度`,

	driven.PromptAnswerSystem: `你是一个专业的施工方案审核助手。请基于提供的施工方案内容，回答用户的问题。

注意事项：
1. 请严格基于提供的施工方案内容进行回答
2. 如果方案中没有相关信息，请明确说明
3. 回答要专业、准确、具体
4. 可以引用方案内容的编号，例如 [2]`,

	driven.PromptAnswerQuestion: `施工方案内容：
%s

用户问题：%s

请基于上述施工方案内容回答用户问题：`,
}

// placeholders is the number of %s verbs each template must keep.
var placeholders = map[string]int{
	driven.PromptJudgeSystem:    0,
	driven.PromptJudgeRule:      3,
	driven.PromptAnswerSystem:   0,
	driven.PromptAnswerQuestion: 2,
}

// NewPromptStore creates a prompt store rooted at promptDir,
// which defaults to ~/.planaudit/prompts. Nothing is written until the first Load.
func NewPromptStore(promptDir string) (*PromptStore, error) {
	if promptDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		promptDir = filepath.Join(home, ".planaudit", "prompts")
	}

	return &PromptStore{
		promptDir: promptDir,
		cache:     make(map[string]string),
	}, nil
}

// Load returns the named template. The user's file wins when it exists and
// keeps the template's placeholders; otherwise the built-in default is used.
func (s *PromptStore) Load(name string) (string, error) {
	s.initOnce.Do(s.initialise)

	s.mu.RLock()
	prompt, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return prompt, nil
	}

	fallback, known := defaultPrompts[name]
	prompt, err := s.loadFromFile(name)
	switch {
	case err != nil && !known:
		return "", fmt.Errorf("load prompt %q: %w", name, err)
	case err != nil:
		if s.initErr == nil && !os.IsNotExist(err) {
			logger.Warn("prompt %s: %v, using the built-in prompt", name, err)
		}
		prompt = fallback
	case known && strings.Count(prompt, "%s") != placeholders[name]:
		logger.Warn("prompt %s must contain %d %%s placeholders, using the built-in prompt", name, placeholders[name])
		prompt = fallback
	}

	s.mu.Lock()
	if cached, ok := s.cache[name]; ok {
		prompt = cached
	} else {
		s.cache[name] = prompt
	}
	s.mu.Unlock()

	return prompt, nil
}

// Reload clears the prompt cache, forcing fresh loads from disk.
func (s *PromptStore) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
}

// Dir returns the prompt directory path.
func (s *PromptStore) Dir() string {
	return s.promptDir
}

// initialise creates the prompt directory, the default files and a README.
func (s *PromptStore) initialise() {
	if err := os.MkdirAll(s.promptDir, 0700); err != nil {
		s.initErr = fmt.Errorf("create prompt directory: %w", err)
		return
	}

	for name, content := range defaultPrompts {
		path := filepath.Join(s.promptDir, name+".txt")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				s.initErr = fmt.Errorf("create default prompt %q: %w", name, err)
				return
			}
		}
	}

	if err := s.createReadme(); err != nil {
		s.initErr = err
	}
}

// loadFromFile reads a prompt from disk.
func (s *PromptStore) loadFromFile(name string) (string, error) {
	path := filepath.Join(s.promptDir, name+".txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// createReadme writes a README file explaining the prompts directory.
func (s *PromptStore) createReadme() error {
	path := filepath.Join(s.promptDir, "README.md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil // Already exists or stat error (ignore)
	}

	content := `# planaudit Prompts

This directory contains the prompts used by the model judge
(` + "`judge.kind = \"model\"`" + `) and by ` + "`planaudit ask`" + `.

## Files

- ` + "`judge_system.txt`" + ` - System prompt: the reviewer's role
- ` + "`judge_rule.txt`" + ` - Asks for a verdict on one defect rule
- ` + "`answer_system.txt`" + ` - System prompt for questions about a plan
- ` + "`answer_question.txt`" + ` - Wraps the retrieved excerpts and the question

## Customisation

Edit any file to customise the judge. Changes take effect on the next command
or after restarting ` + "`planaudit mcp serve`" + `.

## Format Placeholders

` + "`judge_rule.txt`" + ` takes three Go fmt placeholders, in order:
- ` + "`%s`" + ` - the rule's category
- ` + "`%s`" + ` - the defect scenario
- ` + "`%s`" + ` - the numbered evidence excerpts

` + "`answer_question.txt`" + ` takes two: the numbered excerpts, then the question.

Keep the answer format lines. The judge reads the verdict from the
"合规性判断" (or "Verdict:") line and the confidence from "置信度" (or "Confidence:").
`
	return os.WriteFile(path, []byte(content), 0600)
}
