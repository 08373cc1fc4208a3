// Package prompt renders the text sent to the external generator.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

const ifClose = "{{/if}}"

// Vars maps template variable names to values.
type Vars map[string]string

// Render expands {{name}} placeholders and {{#if name}}...{{/if}} blocks.
// A block is kept only when its variable is non-empty. Any placeholder left
// without a value is an error.
func Render(tmpl string, vars Vars) (string, error) {
	body, err := expandConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRe.ReplaceAllStringFunc(body, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// expandConditionals resolves blocks innermost first: each {{/if}} pairs
// with the nearest preceding {{#if}}.
func expandConditionals(tmpl string, vars Vars) (string, error) {
	s := tmpl
	for {
		closeAt := strings.Index(s, ifClose)
		if closeAt < 0 {
			break
		}
		opens := ifOpenRe.FindAllStringSubmatchIndex(s[:closeAt], -1)
		if len(opens) == 0 {
			return "", fmt.Errorf("dangling {{/if}} without matching {{#if}}")
		}
		o := opens[len(opens)-1]
		name := s[o[2]:o[3]]
		kept := ""
		if vars[name] != "" {
			kept = s[o[1]:closeAt]
		}
		s = s[:o[0]] + kept + s[closeAt+len(ifClose):]
	}
	if loc := ifOpenRe.FindString(s); loc != "" {
		return "", fmt.Errorf("unclosed conditional block: %s", loc)
	}
	return s, nil
}

// Load returns the named template. A file of the same name under dir
// overrides the built-in; dir may be empty.
func Load(name, dir string) (string, error) {
	if strings.Contains(name, "..") || filepath.IsAbs(name) {
		return "", fmt.Errorf("invalid template name %q", name)
	}
	if dir != "" {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read template %q: %w", name, err)
		}
	}
	tmpl, ok := builtinTemplates[name]
	if !ok {
		return "", fmt.Errorf("template %q not found", name)
	}
	return tmpl, nil
}

// RenderNamed loads and renders a template in one step.
func RenderNamed(name, dir string, vars Vars) (string, error) {
	tmpl, err := Load(name, dir)
	if err != nil {
		return "", err
	}
	return Render(tmpl, vars)
}
