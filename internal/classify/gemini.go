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
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-3-flash-preview"

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey string
	Model  string
	// Temperature nil means DefaultTemperature; zero is honoured.
	Temperature *float32
}

// Gemini classifies messages with Google's Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewGemini creates a Gemini-backed classifier.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultGeminiModel
	}

	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  model,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(Instructions, genai.RoleUser),
			Temperature:       genai.Ptr(temperature),
			ThinkingConfig: &genai.ThinkingConfig{
				ThinkingBudget: genai.Ptr[int32](0),
			},
		},
	}, nil
}

// Complete implements Classifier.
func (g *Gemini) Complete(ctx context.Context, input string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(input), g.config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// Stream implements Classifier.
func (g *Gemini) Stream(ctx context.Context, input string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		chunks := 0
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(input), g.config) {
			if err != nil {
				errc <- fmt.Errorf("gemini stream: %w", err)
				return
			}

			text := resp.Text()
			if text == "" {
				continue
			}
			chunks++

			select {
			case out <- text:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}

		slog.Debug("gemini stream completed", "model", g.model, "chunks", chunks)
	}()

	return out, errc
}

// Name identifies the backend in logs.
func (g *Gemini) Name() string {
	return "gemini:" + g.model
}
