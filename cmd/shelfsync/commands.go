package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/shelfsync/shelfsync/internal/errors"
	"github.com/shelfsync/shelfsync/internal/syncer"
	"github.com/spf13/cobra"
)

func marshalJSONOrFallback(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err == nil {
		return string(data) + "\n"
	}

	fallback, fallbackErr := json.Marshal(map[string]string{
		"error": "failed to marshal JSON output",
	})
	if fallbackErr != nil {
		return "{}\n"
	}

	return string(fallback) + "\n"
}

// withApp opens the engine for a one-shot command and closes it after.
func withApp(fn func(a *app) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func newSyncCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile local collections with the cloud once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				syncers, err := a.syncers(flags.domain)
				if err != nil {
					return err
				}

				results := make(map[string]syncer.Result, len(syncers))

				var failed error

				for _, s := range syncers {
					res, err := s.Sync(cmd.Context(), syncer.TriggerManual)
					if err != nil {
						failed = errors.Join(failed, fmt.Errorf("%s: %w", s.Domain(), err))
					}

					results[string(s.Domain())] = res

					if !flags.json {
						printResult(cmd.OutOrStdout(), string(s.Domain()), res)
					}
				}

				if flags.json {
					fmt.Fprint(cmd.OutOrStdout(), marshalJSONOrFallback(results))
				}

				return failed
			})
		},
	}
}

func printResult(w io.Writer, domain string, res syncer.Result) {
	fmt.Fprintf(w, "%-7s %s (%d items)\n", domain, res.Action, len(res.Items))

	if res.Conflict != nil {
		fmt.Fprintf(w, "        %d conflicting items, run `shelfsync conflict --domain %s`\n",
			len(res.Conflict.Records), domain)
	}
}

func newConflictCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "conflict",
		Short: "Show items that differ between the local and cloud collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				syncers, err := a.syncers(flags.domain)
				if err != nil {
					return err
				}

				conflicts := make(map[string]*syncer.SyncConflict, len(syncers))

				for _, s := range syncers {
					c, err := s.DetectConflict(cmd.Context())
					if err != nil {
						return fmt.Errorf("%s: %w", s.Domain(), err)
					}

					conflicts[string(s.Domain())] = c

					if !flags.json {
						printConflict(cmd.OutOrStdout(), string(s.Domain()), c)
					}
				}

				if flags.json {
					fmt.Fprint(cmd.OutOrStdout(), marshalJSONOrFallback(conflicts))
				}

				return nil
			})
		},
	}
}

func printConflict(w io.Writer, domain string, c *syncer.SyncConflict) {
	if c == nil {
		fmt.Fprintf(w, "%-7s no conflict\n", domain)
		return
	}

	fmt.Fprintf(w, "%-7s %s: local edited %s, cloud edited %s\n",
		domain, c.Kind, orNever(c.Local.LastModified), orNever(c.Cloud.LastModified))
	fmt.Fprintf(w, "        %d local-only, %d cloud-only, %d identical\n",
		len(c.LocalAdditions), len(c.CloudAdditions), len(c.Identical))

	for _, r := range c.Records {
		fmt.Fprintf(w, "\n  %s (%s)\n", r.ID, r.Classification)

		if r.Diff != "" {
			for _, line := range strings.Split(strings.TrimRight(r.Diff, "\n"), "\n") {
				fmt.Fprintf(w, "    %s\n", line)
			}
		}
	}

	fmt.Fprintln(w)
}

func orNever(ts string) string {
	if ts == "" {
		return "never"
	}

	return ts
}

func newResolveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <local|cloud|merge|cancel>",
		Short: "Settle a conflict by keeping local, cloud or a merge of both",
		Long: `Detect the current conflict and settle it. The side being replaced is
backed up first; see the backups command. A domain flag is required.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := syncer.ParseChoice(args[0])
			if err != nil {
				return err
			}

			if flags.domain == "" {
				return fmt.Errorf("--domain is required")
			}

			return withApp(func(a *app) error {
				syncers, err := a.syncers(flags.domain)
				if err != nil {
					return err
				}

				s := syncers[0]

				c, err := s.DetectConflict(cmd.Context())
				if err != nil {
					return err
				}

				if c == nil {
					return fmt.Errorf("%s: %w", s.Domain(), apperrors.ErrNoPendingConflict)
				}

				items, err := s.ResolveConflict(cmd.Context(), choice)
				if err != nil {
					return err
				}

				if flags.json {
					fmt.Fprint(cmd.OutOrStdout(), marshalJSONOrFallback(map[string]any{"items": items}))
					return nil
				}

				fmt.Fprintf(cmd.OutOrStdout(), "%s resolved with %s (%d items)\n", s.Domain(), choice, len(items))

				return nil
			})
		},
	}
}

func newBackupsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List backups taken before conflict resolutions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app) error {
				syncers, err := a.syncers(flags.domain)
				if err != nil {
					return err
				}

				type row struct {
					ID        string `json:"id"`
					Domain    string `json:"domain"`
					Timestamp string `json:"timestamp"`
					Items     int    `json:"items"`
					Reason    string `json:"reason"`
				}

				rows := []row{}

				for _, s := range syncers {
					backups, err := s.Backups()
					if err != nil {
						return fmt.Errorf("%s: %w", s.Domain(), err)
					}

					for _, b := range backups {
						rows = append(rows, row{
							ID:        b.ID,
							Domain:    string(b.Domain),
							Timestamp: b.Timestamp,
							Items:     len(b.Items),
							Reason:    b.Reason,
						})
					}
				}

				if flags.json {
					fmt.Fprint(cmd.OutOrStdout(), marshalJSONOrFallback(rows))
					return nil
				}

				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no backups")
					return nil
				}

				for _, r := range rows {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %-7s %s  %4d items  %s\n",
						r.ID, r.Domain, r.Timestamp, r.Items, r.Reason)
				}

				return nil
			})
		},
	}
}

func newRestoreCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Replace a local collection with a backup and sync it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.domain == "" {
				return fmt.Errorf("--domain is required")
			}

			return withApp(func(a *app) error {
				syncers, err := a.syncers(flags.domain)
				if err != nil {
					return err
				}

				s := syncers[0]

				items, err := s.RestoreFromBackup(args[0])
				if err != nil {
					return err
				}

				if items == nil {
					return fmt.Errorf("backup %q: %w", args[0], apperrors.ErrNotFound)
				}

				res, err := s.Sync(cmd.Context(), syncer.TriggerManual)

				if flags.json {
					fmt.Fprint(cmd.OutOrStdout(), marshalJSONOrFallback(res))
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "restored %d items\n", len(items))
					printResult(cmd.OutOrStdout(), string(s.Domain()), res)
				}

				return err
			})
		},
	}
}

func newLoginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save the remote storage credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("--token is required")
			}

			return withApp(func(a *app) error {
				if err := a.state.SetToken(token); err != nil {
					return fmt.Errorf("saving token: %w", err)
				}

				fmt.Fprintln(cmd.OutOrStdout(), "credential saved")

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "bearer credential for the remote storage API")

	return cmd
}
