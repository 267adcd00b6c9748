// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides terminal output styling for the hdk CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - titles
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Icon is a status marker.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// styles holds the lipgloss styles of one Printer. They are bound to the
// printer's renderer so that colors follow its writer, not stdout.
type styles struct {
	title   lipgloss.Style
	key     lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	box     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
		key:     r.NewStyle().Foreground(ColorTealPrimary),
		muted:   r.NewStyle().Foreground(ColorSlate),
		success: r.NewStyle().Foreground(ColorSuccess),
		warning: r.NewStyle().Foreground(ColorWarning),
		failure: r.NewStyle().Foreground(ColorError),

		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorTealDeep).
			Padding(0, 1),
	}
}

// Printer writes command reports at one personality level.
//
// At PersonalityMachine every line is plain "key=value" or "status text"
// so that scripts can parse it; the other levels add icons, and
// PersonalityStandard adds color and boxes when the writer is a terminal.
//
// Thread Safety: Not safe for concurrent use.
type Printer struct {
	w      io.Writer
	level  PersonalityLevel
	styles styles
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, level PersonalityLevel) *Printer {
	return &Printer{w: w, level: level, styles: newStyles(lipgloss.NewRenderer(w))}
}

// Level returns the printer's personality level.
func (p *Printer) Level() PersonalityLevel {
	return p.level
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.w, s)
}

// Title prints a heading. Machine output omits it.
func (p *Printer) Title(text string) {
	switch p.level {
	case PersonalityMachine:
	case PersonalityMinimal:
		p.println(text)
	default:
		p.println(p.styles.title.Render(text))
	}
}

func (p *Printer) status(icon Icon, word string, style lipgloss.Style, text string) {
	switch p.level {
	case PersonalityMachine:
		p.println(word + " " + text)
	case PersonalityMinimal:
		p.println(string(icon) + " " + text)
	default:
		p.println(style.Render(string(icon)) + " " + text)
	}
}

// Success prints a success line.
func (p *Printer) Success(text string) { p.status(IconSuccess, "ok", p.styles.success, text) }

// Warning prints a warning line.
func (p *Printer) Warning(text string) { p.status(IconWarning, "warn", p.styles.warning, text) }

// Error prints an error line.
func (p *Printer) Error(text string) { p.status(IconError, "error", p.styles.failure, text) }

// Field prints one labelled value.
func (p *Printer) Field(key string, value any) {
	switch p.level {
	case PersonalityMachine:
		fmt.Fprintf(p.w, "%s=%v\n", key, value)
	case PersonalityMinimal:
		fmt.Fprintf(p.w, "  %-12s %v\n", key+":", value)
	default:
		fmt.Fprintf(p.w, "  %s %v\n", p.styles.key.Render(fmt.Sprintf("%-12s", key+":")), value)
	}
}

// Item prints one indented list entry.
func (p *Printer) Item(text string) {
	switch p.level {
	case PersonalityMachine:
		p.println("  " + text)
	case PersonalityMinimal:
		p.println("  " + string(IconBullet) + " " + text)
	default:
		p.println("  " + p.styles.muted.Render(string(IconBullet)) + " " + text)
	}
}

// Box prints content in a bordered box under title. Below standard level
// it prints the title and the content lines unframed.
func (p *Printer) Box(title, content string) {
	if p.level != PersonalityStandard {
		if p.level != PersonalityMachine {
			p.println(title)
		}
		for _, line := range strings.Split(content, "\n") {
			p.println(line)
		}
		return
	}
	p.println(p.styles.box.Render(p.styles.title.Render(title) + "\n" + content))
}
