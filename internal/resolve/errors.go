package resolve

import "errors"

var (
	// ErrLocalizationMalformed means the model never produced a valid
	// localization within the configured number of attempts.
	ErrLocalizationMalformed = errors.New("localization output malformed")

	// ErrEmptyLocalization means the model returned no packages or files.
	ErrEmptyLocalization = errors.New("localization returned nothing")

	// ErrRepoNotOnboarded means the repository has no package summaries.
	ErrRepoNotOnboarded = errors.New("repository not onboarded")
)
