// Package instructions parses the markdown files that tell the agent what
// to do. A file may start with a frontmatter block between "---" lines
// carrying a description and extra allowed tools.
package instructions

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	perrors "github.com/whot/papagai/internal/errors"
)

const delimiter = "---"

var keyValue = regexp.MustCompile(`^([a-zA-Z0-9_-]+):\s*(.*)$`)

// Instructions is a parsed instruction file.
type Instructions struct {
	Frontmatter map[string]string
	Text        string
	Description string
	Tools       []string
}

// Parse splits content into frontmatter and text. Content without a
// complete frontmatter block is all text.
func Parse(content string) Instructions {
	fm, text := splitFrontmatter(content)
	return Instructions{
		Frontmatter: fm,
		Text:        text,
		Description: fm["description"],
		Tools:       ParseTools(fm["tools"]),
	}
}

// Load parses the instruction file at path.
func Load(path string) (Instructions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Instructions{}, perrors.E(perrors.Op("instructions.Load"), perrors.KindIO, err)
	}
	return Parse(string(data)), nil
}

// Empty reports whether there is nothing to tell the agent.
func (in Instructions) Empty() bool {
	return strings.TrimSpace(in.Text) == ""
}

// Combine appends other to in. Tools are merged without duplicates, the
// description is in's and frontmatter keys of in win.
func (in Instructions) Combine(other Instructions) Instructions {
	fm := make(map[string]string, len(in.Frontmatter)+len(other.Frontmatter))
	for k, v := range other.Frontmatter {
		fm[k] = v
	}
	for k, v := range in.Frontmatter {
		fm[k] = v
	}
	var tools []string
	for _, t := range slices.Concat(in.Tools, other.Tools) {
		if !slices.Contains(tools, t) {
			tools = append(tools, t)
		}
	}
	return Instructions{
		Frontmatter: fm,
		Text:        in.Text + "\n" + other.Text,
		Description: in.Description,
		Tools:       tools,
	}
}

func splitFrontmatter(content string) (map[string]string, string) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return map[string]string{}, content
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) != delimiter {
			continue
		}
		block := strings.Join(lines[1:i], "\n")
		text := strings.Join(lines[i+1:], "\n")
		if fm, err := parseYAML(block); err == nil {
			return fm, text
		}
		return parseLines(lines[1:i]), text
	}
	// No closing delimiter.
	return map[string]string{}, content
}

// parseYAML decodes a frontmatter block made of scalars and lists of
// scalars. Nested mappings are rejected so the caller falls back to the
// line parser.
func parseYAML(block string) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(block), &raw); err != nil {
		return nil, err
	}
	fm := make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := scalar(v)
		if err != nil {
			return nil, fmt.Errorf("frontmatter key %q: %w", k, err)
		}
		fm[k] = s
	}
	return fm, nil
}

func scalar(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(v), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			s, err := scalar(item)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ", "), nil
	case map[string]any:
		return "", fmt.Errorf("unexpected mapping")
	default:
		return fmt.Sprint(v), nil
	}
}

// parseLines reads "key: value" lines; lines that are not a key continue
// the previous value.
func parseLines(lines []string) map[string]string {
	fm := map[string]string{}
	var key string
	var value []string
	flush := func() {
		if key != "" {
			fm[key] = strings.TrimSpace(strings.Join(value, "\n"))
		}
	}
	for _, line := range lines {
		if m := keyValue.FindStringSubmatch(line); m != nil {
			flush()
			key, value = m[1], []string{m[2]}
			continue
		}
		if key != "" {
			value = append(value, line)
		}
	}
	flush()
	return fm
}

// ParseTools splits a comma separated tool list. Commas inside () or {}
// belong to the tool, e.g. "Grep(*.{js,ts})".
func ParseTools(s string) []string {
	var tools []string
	var cur strings.Builder
	depth := 0
	add := func() {
		if t := strings.TrimSpace(cur.String()); t != "" {
			tools = append(tools, t)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case r == '(' || r == '{':
			depth++
		case r == ')' || r == '}':
			depth--
		case r == ',' && depth == 0:
			add()
			continue
		}
		cur.WriteRune(r)
	}
	add()
	return tools
}
