// Package prompts wraps the interactive huh inputs used by envctl init.
package prompts

import (
	"github.com/charmbracelet/huh"
)

// Text prompts for text input with an optional default value
func Text(title string, defaultVal string) (string, error) {
	var value string
	if defaultVal != "" {
		value = defaultVal
	}

	err := huh.NewInput().
		Title(title).
		Value(&value).
		Run()

	if err != nil {
		return defaultVal, err
	}

	if value == "" {
		return defaultVal, nil
	}

	return value, nil
}

// Select prompts user to select from a list of options
func Select(title string, options []string, defaultVal string) (string, error) {
	var value string

	// Build options
	opts := make([]huh.Option[string], len(options))
	for i, opt := range options {
		opts[i] = huh.NewOption(opt, opt)
		if opt == defaultVal {
			value = opt
		}
	}

	// If no match found, use first option
	if value == "" && len(options) > 0 {
		value = options[0]
	}

	err := huh.NewSelect[string]().
		Title(title).
		Options(opts...).
		Value(&value).
		Run()

	if err != nil {
		return defaultVal, err
	}

	return value, nil
}
