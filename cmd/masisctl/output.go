// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// colorEnabled is false when stdout is not a terminal, so piped output
// stays clean.
var colorEnabled = isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5FAFD7"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD787"))
	styleWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("#F4D03F"))
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("#E74C3C"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7A80"))

	styleAnswerBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5FAFD7")).
			Padding(0, 1)
)

// render applies a style only when colors are enabled.
func render(style lipgloss.Style, text string) string {
	if !colorEnabled {
		return text
	}
	return style.Render(text)
}

func printTitle(text string)   { fmt.Println(render(styleTitle, text)) }
func printSuccess(text string) { fmt.Println(render(styleSuccess, "✓ ") + text) }
func printWarning(text string) { fmt.Println(render(styleWarning, "⚠ ") + text) }
func printMuted(text string)   { fmt.Println(render(styleMuted, text)) }

// fail prints a styled error to stderr and exits non-zero.
func fail(format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(styleError, "✗ ")+fmt.Sprintf(format, args...))
	os.Exit(1)
}
