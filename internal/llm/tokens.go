package llm

import (
	"regexp"
	"strings"
)

var punctuation = regexp.MustCompile(`[.,!?;:(){}\[\]<>+\-*/=@#$%^&|~"'` + "`" + `]`)

// CountTokens estimates the token count of text as whitespace-separated
// words plus punctuation marks. The estimate is deterministic and errs
// high for source code, which is what budgets want.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text)) + len(punctuation.FindAllStringIndex(text, -1))
}

// TruncateToBudget keeps whole lines from the top of text while the running
// estimate stays within budget. It reports whether anything was cut. A
// first line that alone exceeds the budget is cut at a word boundary.
func TruncateToBudget(text string, budget int) (string, bool) {
	if budget <= 0 || CountTokens(text) <= budget {
		return text, false
	}

	lines := strings.SplitAfter(text, "\n")
	var b strings.Builder
	used := 0
	for _, line := range lines {
		n := CountTokens(line)
		if used+n > budget {
			if b.Len() == 0 {
				b.WriteString(truncateWords(line, budget))
			}
			break
		}
		b.WriteString(line)
		used += n
	}
	return b.String(), true
}

func truncateWords(line string, budget int) string {
	words := strings.Fields(line)
	var b strings.Builder
	used := 0
	for _, w := range words {
		n := CountTokens(w)
		if used+n > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		used += n
	}
	return b.String()
}
