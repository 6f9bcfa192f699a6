package rules

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Engine normalizes assistant replies into speakable text: built-in markdown
// stripping plus optional user-defined substitutions loaded from a file.
//
// Rule file format, one rule per line:
//
//	literal text => replacement
//	re: pattern => replacement
//
// Lines starting with '#' and blank lines are ignored.
type Engine struct {
	rules     []substitution
	loopLimit int
}

type substitution struct {
	pattern     *regexp.Regexp
	replacement string
}

// NewEngine loads substitutions from path. A missing or empty path yields an
// engine that only applies the built-in normalization.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	if loopLimit <= 0 {
		loopLimit = 10
	}

	engine := &Engine{loopLimit: loopLimit}
	if strings.TrimSpace(path) == "" {
		return engine, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	rules, err := parseRules(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	engine.rules = rules
	return engine, nil
}

// Apply returns text rewritten for speech output.
func (e *Engine) Apply(text string) (string, error) {
	out := stripMarkup(text)

	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, rule := range e.rules {
			next := rule.pattern.ReplaceAllString(out, rule.replacement)
			if next != out {
				out = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return strings.TrimSpace(collapseSpaces(out)), nil
}

func parseRules(contents string) ([]substitution, error) {
	var rules []substitution

	for lineNo, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=>", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: missing '=>' separator", lineNo+1)
		}
		lhs := strings.TrimSpace(parts[0])
		rhs := strings.TrimSpace(parts[1])
		if lhs == "" {
			return nil, fmt.Errorf("line %d: empty pattern", lineNo+1)
		}

		var pattern *regexp.Regexp
		var err error
		if rest, ok := strings.CutPrefix(lhs, "re:"); ok {
			pattern, err = regexp.Compile(strings.TrimSpace(rest))
		} else {
			pattern, err = regexp.Compile(regexp.QuoteMeta(lhs))
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
		}

		rules = append(rules, substitution{pattern: pattern, replacement: rhs})
	}

	return rules, nil
}

var (
	codeFenceRe  = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`([^`]*)`")
	headingRe    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	emphasisRe   = regexp.MustCompile(`[*_]{1,3}([^*_]+)[*_]{1,3}`)
	linkRe       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	bareURLRe    = regexp.MustCompile(`https?://\S+`)
	bulletRe     = regexp.MustCompile(`(?m)^\s*[-*+]\s+`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
)

// stripMarkup removes chat-oriented markup that sounds wrong when read out
// loud. Code blocks are replaced with a short spoken placeholder.
func stripMarkup(text string) string {
	out := codeFenceRe.ReplaceAllString(text, " code snippet omitted ")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = headingRe.ReplaceAllString(out, "")
	out = emphasisRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = bareURLRe.ReplaceAllString(out, "a link")
	out = bulletRe.ReplaceAllString(out, "")
	return out
}

func collapseSpaces(text string) string {
	return spacesRe.ReplaceAllString(text, " ")
}
