package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

// ErrConfigIncomplete is returned when an assistant configuration lacks a
// key its graph needs.
var ErrConfigIncomplete = errors.New("assistant config incomplete")

// Graph identifiers an assistant may select.
const (
	GraphOnboard = "onboard"
	GraphResolve = "resolve"
)

// Default tunables for assistant configuration.
const (
	DefaultFileTokenBudget         = 6000
	DefaultPackageInputBudget      = 8000
	DefaultPackageOutputBudget     = 512
	DefaultLocalizationInputBudget = 12000
	DefaultLocalizationMaxAttempts = 3
	DefaultConcurrency             = 4
)

// AssistantConfig is the typed form of the free-form configuration map an
// assistant is created with. Unknown keys are ignored.
type AssistantConfig struct {
	CodeSummaryModel     string `koanf:"code_summary_model" json:"code_summary_model,omitempty"`
	LocalizationModel    string `koanf:"localization_model" json:"localization_model,omitempty"`
	CodeSuggestionsModel string `koanf:"code_suggestions_model" json:"code_suggestions_model,omitempty"`

	// Prompt overrides. Empty fields use the built-in templates.
	FileSummaryPrompt         string `koanf:"file_summary_system_prompt" json:"file_summary_system_prompt,omitempty"`
	PackageSummaryPrompt      string `koanf:"package_summary_system_prompt" json:"package_summary_system_prompt,omitempty"`
	PackageLocalizationPrompt string `koanf:"package_localization_system_prompt" json:"package_localization_system_prompt,omitempty"`
	FileLocalizationPrompt    string `koanf:"file_localization_system_prompt" json:"file_localization_system_prompt,omitempty"`
	CodeSuggestionsPrompt     string `koanf:"code_suggestions_system_prompt" json:"code_suggestions_system_prompt,omitempty"`

	GitHubToken Secret `koanf:"gh_token" json:"gh_token,omitempty"`

	FileTokenBudget         int `koanf:"file_token_budget" json:"file_token_budget"`
	PackageInputBudget      int `koanf:"package_input_budget" json:"package_input_budget"`
	PackageOutputBudget     int `koanf:"package_output_budget" json:"package_output_budget"`
	LocalizationInputBudget int `koanf:"localization_input_budget" json:"localization_input_budget"`
	LocalizationMaxAttempts int `koanf:"localization_max_attempts" json:"localization_max_attempts"`
	Concurrency             int `koanf:"concurrency" json:"concurrency"`
}

// DecodeAssistantConfig decodes raw into an AssistantConfig for graphID,
// fills defaults, and checks required keys.
func DecodeAssistantConfig(graphID string, raw map[string]any) (AssistantConfig, error) {
	var cfg AssistantConfig

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(raw, "."), nil); err != nil {
		return cfg, fmt.Errorf("load assistant config: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("decode assistant config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(graphID); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *AssistantConfig) applyDefaults() {
	if c.FileTokenBudget <= 0 {
		c.FileTokenBudget = DefaultFileTokenBudget
	}
	if c.PackageInputBudget <= 0 {
		c.PackageInputBudget = DefaultPackageInputBudget
	}
	if c.PackageOutputBudget <= 0 {
		c.PackageOutputBudget = DefaultPackageOutputBudget
	}
	if c.LocalizationInputBudget <= 0 {
		c.LocalizationInputBudget = DefaultLocalizationInputBudget
	}
	if c.LocalizationMaxAttempts <= 0 {
		c.LocalizationMaxAttempts = DefaultLocalizationMaxAttempts
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
}

// Validate reports the keys graphID requires that c lacks.
func (c AssistantConfig) Validate(graphID string) error {
	var missing []string
	switch graphID {
	case GraphOnboard:
		if c.CodeSummaryModel == "" {
			missing = append(missing, "code_summary_model")
		}
	case GraphResolve:
		if c.LocalizationModel == "" {
			missing = append(missing, "localization_model")
		}
		if c.CodeSuggestionsModel == "" {
			missing = append(missing, "code_suggestions_model")
		}
	default:
		return fmt.Errorf("%w: unknown graph %q", ErrConfigIncomplete, graphID)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfigIncomplete, strings.Join(missing, ", "))
	}
	return nil
}
