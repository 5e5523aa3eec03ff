package structured

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seagent/internal/llm"
)

type pkgList struct {
	Packages []struct {
		Name      string `json:"package_name"`
		Rationale string `json:"rationale"`
	} `json:"packages"`
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"fenced", "Sure:\n```json\n{\"a\":1}\n```\nDone.", `{"a":1}`},
		{"prose", `The answer is {"a":{"b":2}} as requested.`, `{"a":{"b":2}}`},
		{"array", `result: [1,2]`, `[1,2]`},
		{"none", "no json here", ""},
		{"unterminated", `ok {"a":1`, `{"a":1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestRepair(t *testing.T) {
	out, stats, err := Repair(`{"a":1}`)
	require.NoError(t, err)
	assert.False(t, stats.Repaired)
	assert.Equal(t, `{"a":1}`, out)

	out, stats, err = Repair(`{"a":[1,2,],}`)
	require.NoError(t, err)
	assert.True(t, stats.Repaired)
	assert.Equal(t, []string{"trailing_commas"}, stats.Strategies)
	assert.JSONEq(t, `{"a":[1,2]}`, out)

	out, _, err = Repair(`{'a': 'x'}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"x"}`, out)
}

func TestDecode(t *testing.T) {
	got, err := Decode[pkgList]("```json\n{\"packages\":[{\"package_name\":\"api\",\"rationale\":\"r\"},]}\n```")
	require.NoError(t, err)
	require.Len(t, got.Packages, 1)
	assert.Equal(t, "api", got.Packages[0].Name)

	_, err = Decode[pkgList]("I cannot help with that.")
	assert.ErrorIs(t, err, ErrMalformed)
}

func scripted(responses ...string) (llm.Gateway, *int) {
	calls := 0
	return llm.GatewayFunc(func(ctx context.Context, model, prompt string) (string, error) {
		r := responses[min(calls, len(responses)-1)]
		calls++
		return r, nil
	}), &calls
}

func TestGenerate_ExactAttemptBound(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("attempts=%d", n), func(t *testing.T) {
			gw, calls := scripted("definitely not json")
			_, outcome, err := Generate[pkgList](context.Background(),
				Validator{Gateway: gw, MaxAttempts: n}, "m", "p", nil)

			require.ErrorIs(t, err, ErrMalformed)
			require.ErrorIs(t, err, ErrAttemptsExhausted)
			assert.Equal(t, n, *calls)
			assert.Equal(t, n, outcome.Attempts)
			assert.Len(t, outcome.Failures, n)
		})
	}
}

func TestGenerate_CheckFailureReprompts(t *testing.T) {
	var prompts []string
	responses := []string{
		`{"packages":[{"package_name":"ghost","rationale":"r"}]}`,
		`{"packages":[{"package_name":"api","rationale":"r"}]}`,
	}
	gw := llm.GatewayFunc(func(ctx context.Context, model, prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return responses[len(prompts)-1], nil
	})
	known := map[string]bool{"api": true}
	check := func(v *pkgList) error {
		for _, p := range v.Packages {
			if !known[p.Name] {
				return fmt.Errorf("unknown package %q", p.Name)
			}
		}
		return nil
	}

	got, outcome, err := Generate[pkgList](context.Background(), Validator{Gateway: gw, MaxAttempts: 3}, "m", "base prompt", check)
	require.NoError(t, err)
	assert.Equal(t, "api", got.Packages[0].Name)
	assert.Equal(t, 2, outcome.Attempts)
	require.Len(t, prompts, 2)
	assert.True(t, strings.HasPrefix(prompts[1], "base prompt"))
	assert.Contains(t, prompts[1], `unknown package "ghost"`)
}

func TestGenerate_GatewayErrorNotCounted(t *testing.T) {
	gw := llm.GatewayFunc(func(context.Context, string, string) (string, error) {
		return "", fmt.Errorf("%w: boom", llm.ErrGatewayError)
	})
	_, outcome, err := Generate[pkgList](context.Background(), Validator{Gateway: gw, MaxAttempts: 3}, "m", "p", nil)
	assert.ErrorIs(t, err, llm.ErrGatewayError)
	assert.False(t, errors.Is(err, ErrMalformed))
	assert.Equal(t, 1, outcome.Attempts)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gw, calls := scripted(`{}`)
	_, _, err := Generate[pkgList](ctx, Validator{Gateway: gw, MaxAttempts: 3}, "m", "p", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *calls)
}
