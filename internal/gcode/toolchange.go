// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gantry Contributors

// Package gcode contains pure helpers for recognizing G-code commands.
package gcode

import (
	"regexp"
	"strconv"
	"strings"
)

// ToolChange is the result of matching a line against the tool-change
// command forms. Matched distinguishes "no tool-change at all" from a
// bare M6 with no tool token, which is a valid command with Tool == nil.
type ToolChange struct {
	Matched bool
	Tool    *int
}

// Tool-change surface forms, matched against trimmed upper-cased input.
// The anchors reject longer M-codes (M60, M600) and letter-suffixed
// forms (M6R2) that merely share the M6 prefix.
var (
	m6FirstPattern   = regexp.MustCompile(`^M0?6(?:\s*T(\d+))?$`)
	toolFirstPattern = regexp.MustCompile(`^T(\d+)\s*M0?6$`)
)

// MatchToolChange reports whether line encodes a tool-change command.
// Accepted forms: "M6"/"M06" optionally followed by "T<digits>", or
// "T<digits>" followed by "M6"/"M06", with or without interior
// whitespace. Matching is case-insensitive; leading zeros in the tool
// number are stripped.
func MatchToolChange(line string) ToolChange {
	s := strings.ToUpper(strings.TrimSpace(line))
	if s == "" {
		return ToolChange{}
	}

	if m := m6FirstPattern.FindStringSubmatch(s); m != nil {
		return ToolChange{Matched: true, Tool: parseTool(m[1])}
	}
	if m := toolFirstPattern.FindStringSubmatch(s); m != nil {
		return ToolChange{Matched: true, Tool: parseTool(m[1])}
	}
	return ToolChange{}
}

// SameTool reports whether the command requests the tool that is already
// loaded. A bare M6 (no tool token) or an unknown current tool is never
// considered a same-tool change.
func (tc ToolChange) SameTool(current *int) bool {
	if !tc.Matched || tc.Tool == nil || current == nil {
		return false
	}
	return *tc.Tool == *current
}

func parseTool(digits string) *int {
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &n
}
