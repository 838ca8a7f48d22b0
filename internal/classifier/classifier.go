// Package classifier guesses whether a prompt asks for code.
//
// The decision is a heuristic: a prompt is a code request when it names at
// least one programming term and contains none of the explanatory phrases.
// A prompt holding both is treated as a request for an explanation. Wrong
// answers in either direction are expected and are not defects.
package classifier

import (
	"fmt"
	"regexp"
	"strings"
)

// RefusalMessage is the assistant reply to prompts that do not look like
// code requests.
const RefusalMessage = "I'm a code assistant, so I only generate code. " +
	"Ask me to write, fix, or refactor something, for example " +
	"\"Create a Python function to find prime numbers\"."

var defaultKeywords = []string{
	// languages
	"python", "javascript", "typescript", "java", "golang", "rust", "ruby",
	"php", "swift", "kotlin", "scala", "perl", "haskell", "c++", "c#",
	".net", "html", "css", "sql", "bash", "shell", "powershell", "lua",
	// frameworks and tooling
	"react", "vue", "angular", "nodejs", "flask",
	"django", "fastapi", "spring", "docker", "kubernetes", "terraform",
	"graphql", "json", "yaml", "regex", "api", "endpoint",
	// programming nouns
	"code", "function", "method", "class", "script", "program",
	"algorithm", "snippet", "loop", "array", "recursion", "query",
	"database", "component", "module", "library", "unit test",
	// programming verbs
	"implement", "refactor", "debug", "compile", "parse",
}

var defaultExplanatory = []string{
	`\bwhat\s+(is|are|does|do)\b`,
	`\bexplain\b`,
	`\bdifference\s+between\b`,
	`\bpros\s+and\s+cons\b`,
	`\bwhy\s+(is|are|does|do)\b`,
	`\bhow\s+does\b`,
	`\bcompare\b`,
	`\bdisadvantages?\b`,
	`\badvantages?\b`,
	`\bhistory\s+of\b`,
	`\bdefinition\s+of\b`,
	`\bmeaning\s+of\b`,
}

// Classifier holds compiled keyword and explanatory patterns.
type Classifier struct {
	keywords    []*regexp.Regexp
	explanatory []*regexp.Regexp
}

var defaultClassifier = mustNew(nil)

// New builds a classifier from the built-in lists plus extra keywords.
func New(extraKeywords []string) (*Classifier, error) {
	c := &Classifier{}
	for _, kw := range append(append([]string{}, defaultKeywords...), extraKeywords...) {
		kw = strings.TrimSpace(strings.ToLower(kw))
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(keywordPattern(kw))
		if err != nil {
			return nil, fmt.Errorf("keyword %q: %w", kw, err)
		}
		c.keywords = append(c.keywords, re)
	}
	for _, expr := range defaultExplanatory {
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return nil, fmt.Errorf("explanatory pattern %q: %w", expr, err)
		}
		c.explanatory = append(c.explanatory, re)
	}
	return c, nil
}

func mustNew(extra []string) *Classifier {
	c, err := New(extra)
	if err != nil {
		panic(err)
	}
	return c
}

// keywordPattern anchors kw on word boundaries where kw begins or ends with
// a word character; "c++", "c#" and ".net" are matched literally on their
// symbol side, so "asp.net" contains ".net".
func keywordPattern(kw string) string {
	quoted := regexp.QuoteMeta(kw)
	prefix, suffix := `(?i)`, ``
	if isWordByte(kw[0]) {
		prefix += `\b`
	}
	if isWordByte(kw[len(kw)-1]) {
		suffix = `\b`
	}
	return prefix + strings.ReplaceAll(quoted, ` `, `\s+`) + suffix
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

// LooksLikeCodeRequest reports whether text names a programming term and no
// explanatory phrase matches.
func (c *Classifier) LooksLikeCodeRequest(text string) bool {
	if !c.hasKeyword(text) {
		return false
	}
	for _, re := range c.explanatory {
		if re.MatchString(text) {
			return false
		}
	}
	return true
}

func (c *Classifier) hasKeyword(text string) bool {
	for _, re := range c.keywords {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// LooksLikeCodeRequest uses the built-in keyword and pattern lists.
func LooksLikeCodeRequest(text string) bool {
	return defaultClassifier.LooksLikeCodeRequest(text)
}
