package cmd

import (
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/core"
	apperrors "github.com/pulsegate/pulsegate/internal/errors"
	"github.com/pulsegate/pulsegate/internal/observability"
	"github.com/pulsegate/pulsegate/internal/output"
)

var insightsCmd = &cobra.Command{
	Use:   "insights <username>",
	Short: "Show aggregated GitHub activity for a developer",
	Long: `Aggregate profile, repository, search and event data for a GitHub user.

When GitHub is throttled or unreachable the last stored snapshot is served,
and with nothing stored a degraded snapshot with zeroed fields is returned.`,
	Args: cobra.ExactArgs(1),
	RunE: runInsights,
}

func init() {
	rootCmd.AddCommand(insightsCmd)

	insightsCmd.Flags().String("token", "", "GitHub token (defaults to GITHUB_TOKEN or PULSEGATE_GITHUB_TOKEN)")
	addOutputFlags(insightsCmd)
}

func runInsights(cmd *cobra.Command, args []string) error {
	tokenFlag, err := cmd.Flags().GetString("token")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := observability.CLILogger
	rt, err := buildRuntime(ctx, logger)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup

	username := strings.TrimSpace(args[0])
	startedAt := time.Now()
	snapshot, err := rt.orchestrator.FetchInsightsWithFallback(ctx, username, resolveGitHubToken(tokenFlag))
	if err != nil {
		return apperrors.FromDomain(ctx, err)
	}
	logServed(logger, "github_insights", snapshot.Provenance, startedAt)

	return writeOutput(cmd, "insights-"+username, func(f output.Formatter) (string, error) {
		return f.FormatInsights(snapshot)
	})
}

func logServed(logger *logging.Logger, operation string, provenance core.Provenance, startedAt time.Time) {
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("source", string(provenance.Source)),
		zap.Duration("elapsed", time.Since(startedAt)),
	}
	if defaulted := provenance.Defaulted(); len(defaulted) > 0 {
		fields = append(fields, zap.Strings("defaulted", defaulted))
	}
	logger.Info("Result served", fields...)
}
