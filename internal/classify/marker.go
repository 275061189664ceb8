// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package classify implements the marker protocol used to read a
// community-problem verdict out of free generated text, and adapters for
// the text-generation backends that produce it.
//
// A reply is flagged when it carries a marker of the form
//
//	[[LOG_ISSUE: <category>]]
//
// where <category> contains no square brackets. The marker is stripped
// from the text shown to the citizen.
package classify

import (
	"regexp"
	"strings"
)

const markerOpen = "[[LOG_ISSUE:"

var markerPattern = regexp.MustCompile(`\[\[LOG_ISSUE:([^\[\]]*)\]\]`)

// Result is the interpretation of one classifier reply.
type Result struct {
	Display  string
	Flagged  bool
	Category string
}

// Parse interprets a complete reply. Category comes from the first marker;
// every well-formed marker is removed from Display.
func Parse(text string) Result {
	loc := markerPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return Result{Display: strings.TrimSpace(text)}
	}

	return Result{
		Display:  strings.TrimSpace(markerPattern.ReplaceAllString(text, "")),
		Flagged:  true,
		Category: strings.TrimSpace(text[loc[2]:loc[3]]),
	}
}

// Accumulator rebuilds the reply from streamed deltas and re-parses the
// cumulative text after each one.
type Accumulator struct {
	b strings.Builder
}

// Add appends delta and returns the best-effort interpretation so far.
// A marker that has started but not yet closed at the head of the reply is
// held back rather than shown.
func (a *Accumulator) Add(delta string) Result {
	a.b.WriteString(delta)
	text := a.b.String()

	res := Parse(text)
	if !res.Flagged && pendingMarker(text) {
		res.Display = ""
	}
	return res
}

// Text returns the cumulative reply.
func (a *Accumulator) Text() string {
	return a.b.String()
}

// Result parses the cumulative reply as final.
func (a *Accumulator) Result() Result {
	return Parse(a.b.String())
}

// pendingMarker reports whether text opens with an unfinished marker.
func pendingMarker(text string) bool {
	t := strings.TrimLeft(text, " \t\r\n")
	if t == "" {
		return false
	}
	if len(t) < len(markerOpen) {
		return strings.HasPrefix(markerOpen, t)
	}
	return strings.HasPrefix(t, markerOpen) && !strings.Contains(t[len(markerOpen):], "]]")
}
