package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/structured"
)

var (
	ErrAlreadyExists     = errors.New("already exists")
	ErrNotFound          = errors.New("not found")
	ErrThreadBusy        = errors.New("thread has an active run")
	ErrInvalidTransition = errors.New("invalid run transition")

	// ErrInvalidInput is returned for malformed requests.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned by operations on a closed Service.
	ErrClosed = errors.New("runtime closed")

	// errCancelled and errInterrupted are the cancellation causes of a run
	// context.
	errCancelled   = errors.New("run cancelled")
	errInterrupted = errors.New("run interrupted")
)

// ErrorKind classifies an error for callers and persisted runs.
type ErrorKind string

const (
	KindAlreadyExists         ErrorKind = "AlreadyExists"
	KindNotFound              ErrorKind = "NotFound"
	KindConfigIncomplete      ErrorKind = "ConfigIncomplete"
	KindRepoUnreachable       ErrorKind = "RepoUnreachable"
	KindPathNotFound          ErrorKind = "PathNotFound"
	KindGatewayTimeout        ErrorKind = "GatewayTimeout"
	KindRateLimited           ErrorKind = "RateLimited"
	KindGatewayError          ErrorKind = "GatewayError"
	KindLocalizationMalformed ErrorKind = "LocalizationMalformed"
	KindEmptyLocalization     ErrorKind = "EmptyLocalization"
	KindRepoNotOnboarded      ErrorKind = "RepoNotOnboarded"
	KindMalformed             ErrorKind = "Malformed"
	KindThreadBusy            ErrorKind = "ThreadBusy"
	KindInvalidTransition     ErrorKind = "InvalidTransition"
	KindInvalidInput          ErrorKind = "InvalidInput"
	KindCancelled             ErrorKind = "Cancelled"
	KindTimeout               ErrorKind = "Timeout"
	KindInternal              ErrorKind = "Internal"
)

// kinds is ordered: more specific sentinels come before the ones they wrap.
var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrAlreadyExists, KindAlreadyExists},
	{ErrNotFound, KindNotFound},
	{ErrThreadBusy, KindThreadBusy},
	{ErrInvalidTransition, KindInvalidTransition},
	{ErrInvalidInput, KindInvalidInput},
	{config.ErrConfigIncomplete, KindConfigIncomplete},
	{repository.ErrRepoUnreachable, KindRepoUnreachable},
	{repository.ErrPathNotFound, KindPathNotFound},
	{resolve.ErrLocalizationMalformed, KindLocalizationMalformed},
	{resolve.ErrEmptyLocalization, KindEmptyLocalization},
	{resolve.ErrRepoNotOnboarded, KindRepoNotOnboarded},
	{structured.ErrMalformed, KindMalformed},
	{llm.ErrGatewayTimeout, KindGatewayTimeout},
	{llm.ErrRateLimited, KindRateLimited},
	{llm.ErrGatewayError, KindGatewayError},
	{errCancelled, KindCancelled},
	{context.Canceled, KindCancelled},
	{context.DeadlineExceeded, KindTimeout},
}

// KindOf maps err, or any error it wraps, to its kind. Unclassified errors
// are Internal; nil has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func notFound(what, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, what, id)
}
