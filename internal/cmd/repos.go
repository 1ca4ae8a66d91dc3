package cmd

import (
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/pulsegate/pulsegate/internal/errors"
	"github.com/pulsegate/pulsegate/internal/observability"
	"github.com/pulsegate/pulsegate/internal/output"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List repositories visible to a GitHub token",
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

func init() {
	rootCmd.AddCommand(reposCmd)

	reposCmd.Flags().String("token", "", "GitHub token (defaults to GITHUB_TOKEN or PULSEGATE_GITHUB_TOKEN)")
	addOutputFlags(reposCmd)
}

func runRepos(cmd *cobra.Command, args []string) error {
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

	startedAt := time.Now()
	list, err := rt.orchestrator.FetchRepositoriesWithFallback(ctx, resolveGitHubToken(tokenFlag))
	if err != nil {
		return apperrors.FromDomain(ctx, err)
	}
	logServed(logger, "github_repositories", list.Provenance, startedAt)

	return writeOutput(cmd, "repositories", func(f output.Formatter) (string, error) {
		return f.FormatRepositories(list.Repositories)
	})
}
