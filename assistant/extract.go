package assistant

import (
	"regexp"
	"strings"
)

// SnippetKind tells plotting code from declarative chart specs
type SnippetKind int

const (
	SnippetCode SnippetKind = iota
	SnippetSpec
)

func (k SnippetKind) String() string {
	if k == SnippetSpec {
		return "spec"
	}
	return "code"
}

// Snippet is one block extracted from an assistant reply
type Snippet struct {
	Kind   SnippetKind `json:"kind"`
	Source string      `json:"source"`
}

var figureAssignment = regexp.MustCompile(`^\s*fig\s*=\s*(?:px|go)\.`)

type fencedBlock struct {
	lang string
	body string
}

// fencedBlocks splits markdown into its ``` fenced blocks. A fence may close
// at the end of a code line, and a block may open and close on one line. An
// unterminated block at the end of the text is dropped.
func fencedBlocks(markdown string) []fencedBlock {
	var (
		blocks  []fencedBlock
		current strings.Builder
		lang    string
		inBlock bool
	)
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if !strings.HasPrefix(trimmed, "```") {
				continue
			}
			rest := trimmed[3:]
			if end := strings.Index(rest, "```"); end >= 0 {
				// ```fig = px.bar(...)```
				body := rest[:end]
				tag, code := splitTag(body)
				blocks = append(blocks, fencedBlock{lang: tag, body: code})
				continue
			}
			inBlock = true
			lang = strings.ToLower(strings.TrimSpace(rest))
			current.Reset()
			continue
		}
		if trimmed == "```" || strings.HasSuffix(trimmed, "```") {
			current.WriteString(strings.TrimSuffix(strings.TrimRight(line, " \t\r"), "```"))
			blocks = append(blocks, fencedBlock{lang: lang, body: current.String()})
			inBlock = false
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	return blocks
}

// splitTag separates a language tag from code that shares its fence line
func splitTag(body string) (string, string) {
	body = strings.TrimSpace(body)
	for _, tag := range []string{"python", "py", "chart"} {
		if strings.HasPrefix(body, tag) && (len(body) == len(tag) || body[len(tag)] == ' ' || body[len(tag)] == '\t') {
			return tag, strings.TrimSpace(body[len(tag):])
		}
	}
	return "", body
}

func isFigureBlock(b fencedBlock) bool {
	switch b.lang {
	case "", "python", "py":
	default:
		return false
	}
	for _, line := range strings.Split(b.body, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		return figureAssignment.MatchString(line)
	}
	return false
}

// ExtractCodeBlocks returns the fenced blocks of a reply that start by
// assigning a plotly figure, trimmed and in order
func ExtractCodeBlocks(text string) []string {
	var out []string
	for _, b := range fencedBlocks(text) {
		if isFigureBlock(b) {
			out = append(out, strings.TrimSpace(b.body))
		}
	}
	return out
}

// ExtractChartSpecs returns the bodies of ```chart blocks
func ExtractChartSpecs(text string) []string {
	var out []string
	for _, b := range fencedBlocks(text) {
		if b.lang == "chart" && strings.TrimSpace(b.body) != "" {
			out = append(out, strings.TrimSpace(b.body))
		}
	}
	return out
}

// ExtractSnippets returns figure code and chart specs in reply order
func ExtractSnippets(text string) []Snippet {
	var out []Snippet
	for _, b := range fencedBlocks(text) {
		switch {
		case isFigureBlock(b):
			out = append(out, Snippet{Kind: SnippetCode, Source: strings.TrimSpace(b.body)})
		case b.lang == "chart" && strings.TrimSpace(b.body) != "":
			out = append(out, Snippet{Kind: SnippetSpec, Source: strings.TrimSpace(b.body)})
		}
	}
	return out
}
