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

package classify

import (
	"context"
	"errors"
)

// DefaultTemperature keeps replies close to the instructed format.
const DefaultTemperature float32 = 0.2

// FallbackMessage is shown in place of a reply when the backend fails.
const FallbackMessage = "I'm sorry, I couldn't reach the assistant just now. Please try again in a moment."

// Instructions is the fixed system instruction sent with every request.
// The marker it asks for is the contract Parse reads.
const Instructions = `You are the intake assistant for a civic feedback desk. Decide whether each
citizen message is a GENERAL query or a COMMUNITY PROBLEM.

GENERAL: personal questions, factual questions, personal advice.
COMMUNITY PROBLEM: anything affecting shared infrastructure, public safety or
public health (broken streetlights, water outages, unsafe roads, waste, etc).

Rules:
1. For a COMMUNITY PROBLEM you must begin your reply with the marker
   [[LOG_ISSUE: <category>]] where <category> is a short label such as
   Safety, Water, Roads or Sanitation.
2. After the marker, reply professionally and with empathy, confirming the
   concern has been logged for the city team.
3. For a GENERAL message, answer helpfully and never emit the marker.

Examples:
General: "Your answer here..."
Community: "[[LOG_ISSUE: Roads]] I have officially logged this community concern."`

// ErrUnavailable is returned by a classifier that has no backend configured.
var ErrUnavailable = errors.New("classify: no backend configured")

// Classifier is a text-generation backend configured with Instructions.
//
// Stream delivers incremental deltas whose concatenation is the full reply.
// The content channel is closed when the reply ends; the error channel
// carries at most one error and is closed after the content channel.
type Classifier interface {
	Complete(ctx context.Context, input string) (string, error)
	Stream(ctx context.Context, input string) (<-chan string, <-chan error)
}

// Unavailable is a Classifier that always fails with ErrUnavailable.
type Unavailable struct{}

// Complete implements Classifier.
func (Unavailable) Complete(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// Stream implements Classifier.
func (Unavailable) Stream(context.Context, string) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)
	close(out)
	errc <- ErrUnavailable
	close(errc)
	return out, errc
}
