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

package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// shutdownTimeout bounds how long in-flight requests may drain.
const shutdownTimeout = 10 * time.Second

// Serve starts the HTTP server on the given port. ready is closed once the
// listener is bound. The server stops when ctx is done; done is closed after
// every in-flight request has returned.
func Serve(ctx context.Context, port int, handler http.Handler) (ready, done <-chan struct{}, err error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	slog.Info("api server listening", "port", port)
	ready, done = serve(ctx, ln, handler)
	return ready, done, nil
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler) (<-chan struct{}, <-chan struct{}) {
	var inflight sync.WaitGroup
	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inflight.Add(1)
			defer inflight.Done()
			handler.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ready := make(chan struct{})
	done := make(chan struct{})
	served := make(chan struct{})

	go func() {
		defer close(served)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	go func() {
		defer close(done)
		<-ctx.Done()

		slog.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			// Close cancels the remaining request contexts.
			slog.Warn("api server drain timed out, closing connections", "error", err)
			server.Close()
		}

		<-served
		inflight.Wait()
		slog.Info("api server stopped")
	}()

	return ready, done
}
