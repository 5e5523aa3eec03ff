// Package structured turns free-form model output into typed values.
//
// Generate drives a bounded re-prompt loop: each response is extracted,
// repaired, decoded and checked; a failure re-prompts with the error
// appended, and after the configured number of attempts the call fails
// with ErrMalformed.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// ExtractJSON returns the JSON payload embedded in a model response. It
// prefers a fenced block, then the outermost object or array. It returns ""
// when no candidate exists.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw[0] == '{' || raw[0] == '[' {
		return raw
	}

	if strings.Contains(raw, "```") {
		var lines []string
		in := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				if in {
					break
				}
				in = true
				continue
			}
			if in {
				lines = append(lines, line)
			}
		}
		if body := strings.TrimSpace(strings.Join(lines, "\n")); body != "" {
			return body
		}
	}

	start := strings.IndexAny(raw, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if raw[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(raw, closer)
	if end <= start {
		// Unterminated; let Repair try to close it.
		return raw[start:]
	}
	return raw[start : end+1]
}

// RepairStats records what Repair changed.
type RepairStats struct {
	Repaired   bool
	Strategies []string
}

// Repair returns raw as valid JSON, fixing trailing commas first and
// falling back to jsonrepair for anything else.
func Repair(raw string) (string, RepairStats, error) {
	var stats RepairStats
	if json.Valid([]byte(raw)) {
		return raw, stats, nil
	}
	stats.Repaired = true

	fixed := raw
	if trailingComma.MatchString(fixed) {
		fixed = trailingComma.ReplaceAllString(fixed, "$1")
		stats.Strategies = append(stats.Strategies, "trailing_commas")
		if json.Valid([]byte(fixed)) {
			return fixed, stats, nil
		}
	}

	repaired, err := jsonrepair.JSONRepair(fixed)
	stats.Strategies = append(stats.Strategies, "jsonrepair")
	if err != nil {
		return fixed, stats, fmt.Errorf("repair json: %w", err)
	}
	if !json.Valid([]byte(repaired)) {
		return repaired, stats, errors.New("repair json: result still invalid")
	}
	return repaired, stats, nil
}

// Decode extracts, repairs and unmarshals raw into a T.
func Decode[T any](raw string) (T, error) {
	var out T
	payload := ExtractJSON(raw)
	if payload == "" {
		return out, fmt.Errorf("%w: no JSON found in response", ErrMalformed)
	}
	repaired, _, err := Repair(payload)
	if err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}
