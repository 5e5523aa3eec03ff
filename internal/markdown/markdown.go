// Package markdown holds the small Markdown helpers used to build prompts
// and read model output. It is line oriented and ignores headings inside
// fenced code blocks.
package markdown

import (
	"regexp"
	"strings"
)

var (
	headingRe   = regexp.MustCompile(`^(#+)\s+(.*)$`)
	wholeBlock  = regexp.MustCompile("(?s)^```[\\w+.-]*\\r?\\n(.*?)\\r?\\n```$")
	structureRe = regexp.MustCompile("^[-*]\\s+(?:[A-Za-z ]+\\s+)?`([^`]+)`\\s*[:–-]?\\s*(.*)$")
	backtickRe  = regexp.MustCompile("`([^`]+)`")
)

// isFence reports whether a line opens or closes a fenced code block.
func isFence(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~")
}

// ShiftHeadings adds n levels to every ATX heading outside code fences, so
// "# Title" becomes "## Title" for n = 1.
func ShiftHeadings(text string, n int) string {
	if n <= 0 {
		return text
	}
	lines := strings.Split(text, "\n")
	inFence := false
	prefix := strings.Repeat("#", n)
	for i, line := range lines {
		if isFence(line) {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingRe.FindStringSubmatch(line); m != nil {
			lines[i] = prefix + m[1] + " " + m[2]
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractCodeBlock returns the body of text when the whole string is one
// fenced code block, and text unchanged otherwise.
func ExtractCodeBlock(text string) string {
	if m := wholeBlock.FindStringSubmatch(strings.TrimSpace(text)); m != nil {
		return m[1]
	}
	return text
}

// CodeBlock is one fenced block.
type CodeBlock struct {
	Lang string
	Body string
}

// CodeBlocks returns every fenced block in order. An unterminated block runs
// to the end of the text.
func CodeBlocks(text string) []CodeBlock {
	var (
		blocks []CodeBlock
		cur    *CodeBlock
		body   []string
		fence  string
	)
	for _, line := range strings.Split(text, "\n") {
		t := strings.TrimSpace(line)
		if cur == nil {
			if strings.HasPrefix(t, "```") || strings.HasPrefix(t, "~~~") {
				fence = t[:3]
				cur = &CodeBlock{Lang: strings.TrimSpace(t[3:])}
				body = body[:0]
			}
			continue
		}
		if t == fence || (strings.HasPrefix(t, fence) && strings.Trim(t, fence[:1]) == "") {
			cur.Body = strings.Join(body, "\n")
			blocks = append(blocks, *cur)
			cur = nil
			continue
		}
		body = append(body, strings.TrimRight(line, "\r"))
	}
	if cur != nil {
		cur.Body = strings.Join(body, "\n")
		blocks = append(blocks, *cur)
	}
	return blocks
}

// Section is the text under one heading.
type Section struct {
	Title string
	Level int
	Body  string
}

// Sections splits text at headings outside code fences. Text before the
// first heading is returned as a section with level 0.
func Sections(text string) []Section {
	var (
		sections []Section
		cur      = Section{}
		body     []string
		inFence  bool
	)
	flush := func() {
		cur.Body = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Level > 0 || cur.Body != "" {
			sections = append(sections, cur)
		}
		body = nil
	}
	for _, line := range strings.Split(text, "\n") {
		if isFence(line) {
			inFence = !inFence
		}
		if !inFence {
			if m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r")); m != nil {
				flush()
				cur = Section{Title: strings.TrimSpace(m[2]), Level: len(m[1])}
				continue
			}
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// Find returns the body of the first section whose title matches,
// ignoring case.
func Find(sections []Section, title string) (string, bool) {
	for _, s := range sections {
		if strings.EqualFold(s.Title, title) {
			return s.Body, true
		}
	}
	return "", false
}

// Item is a named entry of a bullet list such as
// "- Function `Parse`: parses input".
type Item struct {
	Name        string
	Description string
}

// Items parses bullet entries whose name is quoted in backticks. Other lines
// are ignored.
func Items(body string) []Item {
	var items []Item
	for _, line := range strings.Split(body, "\n") {
		m := structureRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		items = append(items, Item{Name: strings.TrimSpace(m[1]), Description: strings.TrimSpace(m[2])})
	}
	return items
}

// QuotedNames returns every backtick-quoted name in text, in order and
// without duplicates.
func QuotedNames(text string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range backtickRe.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
