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
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/engine"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

func newRootCmd(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "civicctl",
		Short:         "Inspect and resolve civic feedback logs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Manage community logs",
	}
	logsCmd.AddCommand(newLogsListCmd(c.open), newLogsResolveCmd(c))

	root.PersistentFlags().StringVar(&c.server, "server", os.Getenv("CIVICCTL_SERVER"),
		"Base URL of a running service; resolutions go through its API")
	root.AddCommand(logsCmd, newSessionsCmd(c.open), newCitizensCmd(c.open))
	return root
}

func newLogsListCmd(open opener) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List community logs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := models.LogStatus(strings.ToLower(status))
			if filter != "" && !filter.Valid() {
				return fmt.Errorf("unknown status %q (want pending, in_progress or resolved)", status)
			}

			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCATEGORY\tCITIZEN\tCREATED\tMESSAGE")
			for _, l := range a.ledger.List(filter) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					l.ID, l.Status, orDash(l.Category), l.UserID,
					l.CreatedAt.Format(time.RFC3339), truncate(l.OriginalMessage, 48))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show logs in this status")
	return cmd
}

func newLogsResolveCmd(c *cli) *cobra.Command {
	var (
		response string
		admin    string
		session  string
	)

	cmd := &cobra.Command{
		Use:   "resolve <log-id>",
		Short: "Resolve a log and deliver the response to the citizen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logID := strings.ToUpper(strings.TrimSpace(args[0]))

			var (
				res *engine.ResolveResult
				err error
			)
			if c.server != "" {
				res, err = c.resolveRemote(cmd.Context(), admin, logID, response, session)
			} else {
				res, err = resolveOffline(cmd.Context(), c.open, logID, response, admin, session)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s; reply delivered to %s in session %s\n",
				res.Log.ID, res.Message.UserID, res.Message.SessionID)
			return nil
		},
	}

	cmd.Flags().StringVar(&response, "response", "", "Response text delivered to the citizen (required)")
	cmd.Flags().StringVar(&admin, "admin", "", "Admin identity (defaults to the configured admin)")
	cmd.Flags().StringVar(&session, "session", "", "Session to deliver into if the flagged message is gone")
	cmd.MarkFlagRequired("response")
	return cmd
}

// resolveOffline resolves against the snapshot store and writes it back.
func resolveOffline(ctx context.Context, open opener, logID, response, admin, session string) (*engine.ResolveResult, error) {
	a, err := open(ctx)
	if err != nil {
		return nil, err
	}
	defer a.close()

	if err := a.checkLease(ctx); err != nil {
		return nil, err
	}

	if admin == "" {
		admin = a.adminID
	}
	user, err := a.identity.Resolve(admin)
	if err != nil {
		return nil, fmt.Errorf("resolve admin identity: %w", err)
	}

	res, err := a.engine.Resolve(ctx, engine.ResolveRequest{
		LogID:           logID,
		Response:        response,
		Admin:           user,
		ActiveSessionID: session,
	})
	if err != nil {
		return nil, err
	}

	// A service may have started since the first check.
	if err := a.checkLease(ctx); err != nil {
		return nil, fmt.Errorf("resolution not saved: %w", err)
	}
	if err := a.syncer.Flush(ctx); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	return res, nil
}

func newSessionsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <user-id>",
		Short: "List a citizen's conversation sessions, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tLAST MESSAGE AT\tLAST MESSAGE")
			for _, s := range a.conv.SessionsFor(identity.Normalize(args[0])) {
				fmt.Fprintf(w, "%s\t%s\t%s\n",
					s.SessionID, s.LastMessageTime.Format(time.RFC3339), truncate(s.LastMessageContent, 60))
			}
			return w.Flush()
		},
	}
}

func newCitizensCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "citizens",
		Short: "List every citizen with a conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USER\tNAME")
			for _, c := range a.conv.DistinctCounterparts(a.adminID) {
				fmt.Fprintf(w, "%s\t%s\n", c.UserID, c.Name)
			}
			return w.Flush()
		},
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
