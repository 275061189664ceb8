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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Remote classifies messages through a self-hosted generation endpoint.
//
// The endpoint accepts a JSON body {instructions, input, temperature,
// stream}. Atomic calls answer {"text": "..."}; streaming calls answer
// newline-delimited JSON objects, each carrying the next delta in "text"
// or a terminal "error".
type Remote struct {
	httpClient  *http.Client
	endpoint    string
	temperature float32
}

// NewRemote creates a remote classifier. httpClient carries any auth
// (e.g. an OAuth2 client-credentials transport). A nil temperature uses
// DefaultTemperature.
func NewRemote(httpClient *http.Client, endpoint string, temperature *float32) *Remote {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	t := DefaultTemperature
	if temperature != nil {
		t = *temperature
	}
	return &Remote{
		httpClient:  httpClient,
		endpoint:    endpoint,
		temperature: t,
	}
}

// remoteRequest is the body sent to the endpoint.
type remoteRequest struct {
	Instructions string  `json:"instructions"`
	Input        string  `json:"input"`
	Temperature  float32 `json:"temperature"`
	Stream       bool    `json:"stream"`
}

// remoteChunk is one atomic reply or one streamed delta.
type remoteChunk struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

func (r *Remote) post(ctx context.Context, input string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(remoteRequest{
		Instructions: Instructions,
		Input:        input,
		Temperature:  r.temperature,
		Stream:       stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	} else {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call classifier: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("classifier returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return resp, nil
}

// Complete implements Classifier.
func (r *Remote) Complete(ctx context.Context, input string) (string, error) {
	resp, err := r.post(ctx, input, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk remoteChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("decode classifier reply: %w", err)
	}
	if chunk.Error != "" {
		return "", fmt.Errorf("classifier error: %s", chunk.Error)
	}
	return chunk.Text, nil
}

// Stream implements Classifier.
func (r *Remote) Stream(ctx context.Context, input string) (<-chan string, <-chan error) {
	out := make(chan string, 16)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(out)

		resp, err := r.post(ctx, input, true)
		if err != nil {
			errc <- err
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var chunk remoteChunk
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				slog.Warn("skipping malformed classifier chunk", "error", err)
				continue
			}
			if chunk.Error != "" {
				errc <- fmt.Errorf("classifier error: %s", chunk.Error)
				return
			}
			if chunk.Text == "" {
				continue
			}

			select {
			case out <- chunk.Text:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errc <- fmt.Errorf("read classifier stream: %w", err)
		}
	}()

	return out, errc
}
