package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pulsegate/pulsegate/internal/core/store"
	"github.com/pulsegate/pulsegate/internal/output"
)

var (
	rateLimitResetAll      bool
	rateLimitResetUpstream string
	rateLimitResetYes      bool
	rateLimitResetDryRun   bool
)

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete stored quota observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		query := store.QuotaQuery{
			All:      rateLimitResetAll,
			Upstream: strings.TrimSpace(rateLimitResetUpstream),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if !query.All && !knownUpstream(query.Upstream) {
			return fmt.Errorf("unknown upstream: %s", query.Upstream)
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.ListQuota(cmd.Context(), query)
		if err != nil {
			return err
		}

		var deleted int64
		if !rateLimitResetDryRun {
			deleted, err = db.ResetQuota(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		return writeOutput(cmd, "rate-limit.reset", func(f output.Formatter) (string, error) {
			return renderResetResult(f, len(matched), deleted, rateLimitResetDryRun)
		})
	},
}

func renderResetResult(f output.Formatter, matched int, deleted int64, dryRun bool) (string, error) {
	switch f.(type) {
	case *output.JSONFormatter, *output.YAMLFormatter:
		payload, err := json.MarshalIndent(map[string]any{
			"matched": matched,
			"deleted": deleted,
			"dry_run": dryRun,
		}, "", "  ")
		if err != nil {
			return "", err
		}
		return string(payload), nil
	}

	if dryRun {
		return fmt.Sprintf("Would delete %d quota observation(s)", matched), nil
	}
	return fmt.Sprintf("Deleted %d/%d quota observation(s)", deleted, matched), nil
}

func init() {
	addOutputFlags(rateLimitResetCmd)
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all upstreams")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetUpstream, "upstream", "", "Reset a single upstream (github, trello)")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
}
