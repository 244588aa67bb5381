// Package codeblock finds fenced code blocks in free-form LLM responses.
package codeblock

import (
	"regexp"
	"strings"
	"sync"
)

// Fence is the Markdown code fence marker.
const Fence = "```"

// Language tags used for artifacts.
const (
	// Python is the language tag requested from the refactoring crew.
	Python = "python"
	// Markdown names review artifacts.
	Markdown = "markdown"
)

// Block is one fenced block found in a response.
type Block struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

var (
	anyBlockRe = regexp.MustCompile("(?s)" + Fence + `(\w*)\s*(.*?)\s*` + Fence)

	taggedMu sync.RWMutex
	taggedRe = map[string]*regexp.Regexp{}
)

// taggedPattern returns the (cached) expression for a fence opened with
// lang. The tag is matched literally and case-sensitively.
func taggedPattern(lang string) *regexp.Regexp {
	taggedMu.RLock()
	re, ok := taggedRe[lang]
	taggedMu.RUnlock()
	if ok {
		return re
	}

	re = regexp.MustCompile("(?s)" + Fence + regexp.QuoteMeta(lang) + `\s*(.*?)\s*` + Fence)
	taggedMu.Lock()
	taggedRe[lang] = re
	taggedMu.Unlock()
	return re
}

// ExtractFirst returns the trimmed content of the first block fenced with
// lang. The boolean is false when text holds no such block; an empty block
// yields ("", true).
func ExtractFirst(text, lang string) (string, bool) {
	m := taggedPattern(lang).FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ExtractAll returns every fenced block in text, in order, regardless of
// its language tag.
func ExtractAll(text string) []Block {
	matches := anyBlockRe.FindAllStringSubmatch(text, -1)
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, Block{
			Language: m[1],
			Code:     m[2],
		})
	}
	return blocks
}

// Ext maps a language tag to the file extension used for downloads.
func Ext(lang string) string {
	switch strings.ToLower(lang) {
	case "python", "py":
		return ".py"
	case "go", "golang":
		return ".go"
	case "bash", "shell", "sh":
		return ".sh"
	case "javascript", "js":
		return ".js"
	case "typescript", "ts":
		return ".ts"
	case "markdown", "md":
		return ".md"
	default:
		return ".txt"
	}
}
