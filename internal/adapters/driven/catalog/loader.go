// Package catalog loads the defect catalog from JSONL, JSON or YAML files.
//
// Records use either English keys (category, sequence, scenario, severity) or
// the Chinese keys of the published checklists (分类, 序号, 专项施工方案严重缺陷情形).
package catalog

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// Format is a catalog file format.
type Format string

// Supported formats.
const (
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

//go:embed default.jsonl
var defaultCatalog []byte

// maxLineBytes bounds one JSONL record.
const maxLineBytes = 1 << 20

// record is one catalog entry as written in a file.
// Sequence may be a number or a string in the source.
type record struct {
	Category   string `json:"category" yaml:"category"`
	CategoryZH string `json:"分类" yaml:"分类"`
	Sequence   any    `json:"sequence" yaml:"sequence"`
	SequenceZH any    `json:"序号" yaml:"序号"`
	Scenario   string `json:"scenario" yaml:"scenario"`
	ScenarioZH string `json:"专项施工方案严重缺陷情形" yaml:"专项施工方案严重缺陷情形"`
	Severity   string `json:"severity" yaml:"severity"`
}

// FormatOf returns the format implied by a file name's extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: unsupported catalog format %q", domain.ErrInvalidArgument, ext)
	}
}

// Load reads the catalog at path, choosing the format from its extension.
func Load(path string) (*domain.Catalog, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: catalog %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening catalog %s: %w", path, err)
	}
	defer f.Close()

	cat, err := Parse(f, format)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return cat, nil
}

// Default returns the built-in catalog of common special construction plan defects.
func Default() (*domain.Catalog, error) {
	return Parse(bytes.NewReader(defaultCatalog), FormatJSONL)
}

// LoadOrDefault loads the catalog at path, falling back to Default when path
// is empty or the file does not exist. The bool reports whether the fallback was used.
func LoadOrDefault(path string) (*domain.Catalog, bool, error) {
	if path != "" {
		cat, err := Load(path)
		if err == nil {
			return cat, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}
	cat, err := Default()
	return cat, true, err
}

// Parse reads a catalog in the given format. The catalog must hold at least one rule.
func Parse(r io.Reader, format Format) (*domain.Catalog, error) {
	var records []record
	var err error

	switch format {
	case FormatJSONL:
		records, err = parseJSONL(r)
	case FormatJSON:
		records, err = parseJSON(r)
	case FormatYAML:
		records, err = parseYAML(r)
	default:
		return nil, fmt.Errorf("%w: unsupported catalog format %q", domain.ErrInvalidArgument, format)
	}
	if err != nil {
		return nil, err
	}

	rules := make([]domain.DefectRule, 0, len(records))
	for i, rec := range records {
		rule, err := rec.toRule(i + 1)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", domain.ErrInvalidArgument, i+1, err)
		}
		rules = append(rules, rule)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: catalog has no rules", domain.ErrInvalidArgument)
	}

	return domain.NewCatalog(rules), nil
}

func parseJSONL(r io.Reader) ([]record, error) {
	var out []record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidArgument, line, err)
		}
		if err := rec.validate(); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrInvalidArgument, line, err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return out, nil
}

// parseJSON accepts an array of records or a single record.
func parseJSON(r io.Reader) ([]record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	data = bytes.TrimSpace(data)

	var out []record
	if len(data) > 0 && data[0] == '{' {
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
		}
		out = []record{rec}
	} else if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return out, nil
}

func parseYAML(r io.Reader) ([]record, error) {
	var out []record
	if err := yaml.NewDecoder(r).Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	return out, nil
}

func (r record) category() string {
	return strings.TrimSpace(firstNonEmpty(r.Category, r.CategoryZH))
}

func (r record) scenario() string {
	return strings.TrimSpace(firstNonEmpty(r.Scenario, r.ScenarioZH))
}

func (r record) validate() error {
	if r.category() == "" {
		return errors.New("category is required")
	}
	if r.scenario() == "" {
		return errors.New("scenario is required")
	}
	return nil
}

// toRule converts the record at 1-based position pos.
// A missing sequence defaults to pos.
func (r record) toRule(pos int) (domain.DefectRule, error) {
	if err := r.validate(); err != nil {
		return domain.DefectRule{}, err
	}

	seq := sequenceString(r.Sequence)
	if seq == "" {
		seq = sequenceString(r.SequenceZH)
	}
	if seq == "" {
		seq = strconv.Itoa(pos)
	}

	sev := domain.Severity(strings.ToLower(strings.TrimSpace(r.Severity)))
	if !sev.IsValid() {
		return domain.DefectRule{}, fmt.Errorf("unknown severity %q", r.Severity)
	}

	return domain.DefectRule{
		Category: r.category(),
		Sequence: seq,
		Scenario: r.scenario(),
		Severity: sev,
	}, nil
}

func sequenceString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
