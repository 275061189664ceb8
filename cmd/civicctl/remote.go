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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/engine"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
)

// remoteError is a non-200 answer from the service.
type remoteError struct {
	Status  int
	Message string
}

func (e *remoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service answered %d", e.Status)
	}
	return fmt.Sprintf("service answered %d: %s", e.Status, e.Message)
}

// resolveRemote resolves logID through the running service's admin API so
// the service's own state records the resolution.
func (c *cli) resolveRemote(ctx context.Context, admin, logID, response, session string) (*engine.ResolveResult, error) {
	if admin == "" {
		var err error
		if admin, err = c.defaultAdmin(); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(map[string]string{
		"response":        response,
		"activeSessionId": session,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal resolve request: %w", err)
	}

	endpoint := strings.TrimRight(c.server, "/") + "/api/admin/logs/" + url.PathEscape(logID) + "/resolve"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+identity.Normalize(admin))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", c.server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return nil, &remoteError{Status: resp.StatusCode, Message: e.Error}
	}

	var res engine.ResolveResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode resolve response: %w", err)
	}
	return &res, nil
}
