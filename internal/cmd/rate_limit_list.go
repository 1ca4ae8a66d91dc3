package cmd

import (
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/store"
	"github.com/pulsegate/pulsegate/internal/output"
)

var (
	rateLimitListAll      bool
	rateLimitListUpstream string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the last quota observation per upstream",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		db, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.QuotaQuery{
			All:      rateLimitListAll,
			Upstream: strings.TrimSpace(rateLimitListUpstream),
		}
		if !query.All && query.Upstream == "" {
			query.All = true
		}

		observations, err := db.ListQuota(cmd.Context(), query)
		if err != nil {
			return err
		}

		return writeOutput(cmd, "rate-limit.list", func(f output.Formatter) (string, error) {
			if format == output.FormatTable && len(observations) == 0 {
				return emptyQuotaBox(), nil
			}
			return f.FormatQuota(observations)
		})
	},
}

func emptyQuotaBox() string {
	lines := []string{"Quota observations", "", "(no upstream has been throttled)"}
	return ascii.DrawBox(strings.Join(lines, "\n"), 0)
}

// knownUpstream reports whether name is an upstream pulsegate talks to.
func knownUpstream(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case core.UpstreamGitHub, core.UpstreamTrello:
		return true
	default:
		return false
	}
}

func init() {
	addOutputFlags(rateLimitListCmd)
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all upstreams")
	rateLimitListCmd.Flags().StringVar(&rateLimitListUpstream, "upstream", "", "List a single upstream (github, trello)")
}
