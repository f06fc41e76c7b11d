package domain

// Severity is an optional severity tag on a DefectRule.
type Severity string

// Known severities. An empty Severity means unspecified.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid returns true for a known severity or the empty value.
func (s Severity) IsValid() bool {
	switch s {
	case "", SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// DefectRule is one catalog entry describing a known construction-plan deficiency.
type DefectRule struct {
	Category string   `json:"category"`
	Sequence string   `json:"sequence"`
	Scenario string   `json:"scenario"`
	Severity Severity `json:"severity,omitempty"`
}

// Key identifies the rule within its catalog.
func (r DefectRule) Key() string {
	return r.Category + "_" + r.Sequence
}

// Catalog is the ordered, read-only defect taxonomy.
// It is built once and never mutated afterwards.
type Catalog struct {
	rules []DefectRule
}

// NewCatalog creates a catalog holding a copy of rules in the given order.
func NewCatalog(rules []DefectRule) *Catalog {
	cp := make([]DefectRule, len(rules))
	copy(cp, rules)
	return &Catalog{rules: cp}
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.rules)
}

// Rules returns a copy of all rules in catalog order.
func (c *Catalog) Rules() []DefectRule {
	return c.Filter(nil)
}

// Filter returns the rules whose category is in categories, in catalog order.
// An empty categories list selects every rule. Unknown categories select nothing.
func (c *Catalog) Filter(categories []string) []DefectRule {
	if c == nil {
		return nil
	}
	if len(categories) == 0 {
		out := make([]DefectRule, len(c.rules))
		copy(out, c.rules)
		return out
	}

	want := make(map[string]struct{}, len(categories))
	for _, cat := range categories {
		want[cat] = struct{}{}
	}

	var out []DefectRule
	for _, r := range c.rules {
		if _, ok := want[r.Category]; ok {
			out = append(out, r)
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func (c *Catalog) Categories() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, r := range c.rules {
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	return out
}
