package prompt

import (
	"fmt"
	"regexp"
	"strings"

	"server/internal/domain"
)

// Placeholder tokens look like <STYLE> or <PRODUCT_TYPE>: upper-case names,
// digits and underscores allowed after the first character.
var placeholderPattern = regexp.MustCompile(`<([A-Z_][A-Z0-9_]*)>`)

// ExpandedPrompt is one fully substituted prompt together with the variable
// assignment that produced it. Index values are dense, zero-based and stable
// across re-expansion of identical inputs.
type ExpandedPrompt struct {
	Index      int
	Text       string
	Assignment map[string]string
}

// Validation reports whether a template can be expanded against a variable
// map. Missing lists placeholders absent from the map, Empty lists
// placeholders present with zero candidate values.
type Validation struct {
	Valid   bool
	Missing []string
	Empty   []string
}

// Message renders the validation failure for the submitter, enumerating the
// offending variable names.
func (v Validation) Message() string {
	if v.Valid {
		return ""
	}
	var parts []string
	if len(v.Missing) > 0 {
		parts = append(parts, "missing values for: "+strings.Join(v.Missing, ", "))
	}
	if len(v.Empty) > 0 {
		parts = append(parts, "empty values for: "+strings.Join(v.Empty, ", "))
	}
	return strings.Join(parts, "; ")
}

// Placeholders extracts the distinct placeholder names from a template in
// order of first appearance.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Validate checks that every placeholder referenced by the template has at
// least one candidate value. It fails closed: any missing or empty
// placeholder blocks expansion entirely.
func Validate(template string, vars map[string][]string) Validation {
	v := Validation{Valid: true}
	for _, name := range Placeholders(template) {
		values, ok := vars[name]
		switch {
		case !ok:
			v.Missing = append(v.Missing, name)
			v.Valid = false
		case len(values) == 0:
			v.Empty = append(v.Empty, name)
			v.Valid = false
		}
	}
	return v
}

// TotalCombinations returns the number of prompts expansion would produce
// without materializing them. Templates without placeholders count as one.
func TotalCombinations(template string, vars map[string][]string) int {
	total := 1
	for _, name := range Placeholders(template) {
		total *= len(vars[name])
	}
	return total
}

// Expand computes the full cartesian product of the template's placeholder
// values. Placeholders iterate in order of first appearance with the
// last-appearing one varying fastest, so indices are reproducible. Every
// occurrence of a placeholder token is substituted, not just the first.
func Expand(template string, vars map[string][]string) ([]ExpandedPrompt, error) {
	if v := Validate(template, vars); !v.Valid {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTemplate, v.Message())
	}

	names := Placeholders(template)
	if len(names) == 0 {
		return []ExpandedPrompt{{Index: 0, Text: template, Assignment: map[string]string{}}}, nil
	}

	total := TotalCombinations(template, vars)
	prompts := make([]ExpandedPrompt, 0, total)

	// Odometer over the candidate lists: cursor[i] indexes into the values
	// of names[i], with the last position incremented first.
	cursor := make([]int, len(names))
	for idx := 0; idx < total; idx++ {
		text := template
		assignment := make(map[string]string, len(names))
		for i, name := range names {
			value := vars[name][cursor[i]]
			assignment[name] = value
			text = strings.ReplaceAll(text, "<"+name+">", value)
		}
		prompts = append(prompts, ExpandedPrompt{Index: idx, Text: text, Assignment: assignment})

		for i := len(names) - 1; i >= 0; i-- {
			cursor[i]++
			if cursor[i] < len(vars[names[i]]) {
				break
			}
			cursor[i] = 0
		}
	}
	return prompts, nil
}
