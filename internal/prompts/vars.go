package prompts

import "github.com/fyrsmithlabs/seagent/internal/config"

// FileSummaryVars feeds the file_summary template.
type FileSummaryVars struct {
	FilePath    string
	FileType    string
	FileContent string
	Partial     bool
}

// PackageSummaryVars feeds the package_summary template.
type PackageSummaryVars struct {
	PackageName   string
	FileSummaries string
	OutputBudget  int
}

// PackageLocalizationVars feeds the package_localization template.
type PackageLocalizationVars struct {
	PackageSummaries   string
	FormatInstructions string
	Conversation       string
}

// FileLocalizationVars feeds the file_localization template.
type FileLocalizationVars struct {
	FileSummaries      string
	FormatInstructions string
	Conversation       string
}

// CodeSuggestionsVars feeds the code_suggestions template.
type CodeSuggestionsVars struct {
	CodeFiles    string
	Conversation string
}

// ForAssistant returns the built-in registry with the assistant's prompt
// overrides applied.
func ForAssistant(cfg config.AssistantConfig) (*Registry, error) {
	return Default().WithOverrides(map[string]string{
		FileSummary:         cfg.FileSummaryPrompt,
		PackageSummary:      cfg.PackageSummaryPrompt,
		PackageLocalization: cfg.PackageLocalizationPrompt,
		FileLocalization:    cfg.FileLocalizationPrompt,
		CodeSuggestions:     cfg.CodeSuggestionsPrompt,
	})
}
