package secrets

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Scrubber replaces secrets found by the gitleaks default rule set with
// markers naming the rule.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// NewScrubber loads the gitleaks default configuration.
func NewScrubber() (*Scrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("load gitleaks config: %w", err)
	}
	return &Scrubber{detector: d}, nil
}

// Scrub returns content with each secret replaced by [REDACTED:<rule>] and
// the findings that were replaced.
func (s *Scrubber) Scrub(content string) (string, []Finding) {
	if s == nil || content == "" {
		return content, nil
	}

	// The detector accumulates state per scan.
	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	if len(raw) == 0 {
		return content, nil
	}

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}
	// Longest first so a secret containing another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool { return len(findings[i].Match) > len(findings[j].Match) })

	for _, f := range findings {
		content = strings.ReplaceAll(content, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return content, findings
}
