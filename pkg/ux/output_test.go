// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMachine)

	p.Title("Check")
	p.Success("sigma.hdk")
	p.Error("bad.hdk")
	p.Field("dim", 2)
	p.Item("cospan[0].forward: boundary")
	p.Box("Summary", "a\nb")

	want := strings.Join([]string{
		"ok sigma.hdk",
		"error bad.hdk",
		"dim=2",
		"  cospan[0].forward: boundary",
		"a",
		"b",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())
}

func TestPrinter_Minimal(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityMinimal)

	p.Title("Check")
	p.Warning("slow")
	p.Field("size", 3)

	out := buf.String()
	assert.Contains(t, out, "Check\n")
	assert.Contains(t, out, string(IconWarning)+" slow")
	assert.Contains(t, out, "size:")
	assert.NotContains(t, out, "\x1b[")
}

func TestPrinter_StandardToBufferHasNoEscapes(t *testing.T) {
	// A buffer is not a terminal, so the renderer drops colors.
	var buf bytes.Buffer
	p := NewPrinter(&buf, PersonalityStandard)
	p.Success("done")
	p.Box("Info", "dim: 1")

	out := buf.String()
	assert.Contains(t, out, string(IconSuccess)+" done")
	assert.Contains(t, out, "Info")
	assert.Contains(t, out, "╭")
	assert.NotContains(t, out, "\x1b[")
	assert.Equal(t, PersonalityStandard, p.Level())
}

func TestParsePersonalityLevel(t *testing.T) {
	tests := map[string]PersonalityLevel{
		"machine":  PersonalityMachine,
		"Q":        PersonalityMachine,
		"minimal":  PersonalityMinimal,
		"standard": PersonalityStandard,
		"":         PersonalityStandard,
		"fancy":    PersonalityStandard,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParsePersonalityLevel(in), in)
	}
}

func TestInitPersonality(t *testing.T) {
	defer SetPersonalityLevel(GetPersonalityLevel())

	t.Setenv(EnvPersonality, "minimal")
	InitPersonality()
	assert.Equal(t, PersonalityMinimal, GetPersonalityLevel())

	// Test binaries write to a pipe, not a terminal.
	t.Setenv(EnvPersonality, "")
	InitPersonality()
	if !IsTerminal(os.Stdout) {
		assert.Equal(t, PersonalityMachine, GetPersonalityLevel())
	}
}
