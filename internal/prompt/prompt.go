package prompt

import (
	"faultline/internal/exit"

	"github.com/AlecAivazis/survey/v2"
)

func String(message string) string {
	var result string
	prompt := &survey.Input{
		Message: message,
	}
	exit.OnErrorWithMessage(survey.AskOne(prompt, &result), "Failed to prompt for input")
	return result
}

func Select(message string, options []string) string {
	var selected string
	selectPrompt := &survey.Select{
		Message: message,
		Options: options,
	}
	exit.OnErrorWithMessage(survey.AskOne(selectPrompt, &selected), "Failed to prompt for select")

	return selected
}

func Confirm(message string, defaultYes bool) bool {
	var confirmed bool
	confirmPrompt := &survey.Confirm{
		Message: message,
		Default: defaultYes,
	}
	exit.OnErrorWithMessage(survey.AskOne(confirmPrompt, &confirmed), "Failed to prompt for confirmation")

	return confirmed
}
