package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/core/store"
	"github.com/pulsegate/pulsegate/internal/observability"
	"github.com/pulsegate/pulsegate/internal/output"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "Manage the last-known-good snapshot archive",
}

var snapshotsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := cmd.Flags().GetString("kind")
		if err != nil {
			return err
		}

		db, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		snapshots, err := db.ListSnapshots(cmd.Context(), kind)
		if err != nil {
			return err
		}

		return writeOutput(cmd, "snapshots.list", func(f output.Formatter) (string, error) {
			return f.FormatSnapshots(snapshots)
		})
	},
}

var snapshotsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete snapshots older than a duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, err := cmd.Flags().GetDuration("older-than")
		if err != nil {
			return err
		}
		if olderThan <= 0 {
			return errors.New("--older-than must be positive")
		}

		db, err := openConfiguredStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		cutoff := time.Now().UTC().Add(-olderThan)
		removed, err := db.PruneSnapshots(cmd.Context(), cutoff)
		if err != nil {
			return err
		}

		observability.CLILogger.Info("Pruned snapshots",
			zap.Int64("removed", removed),
			zap.Time("cutoff", cutoff))
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d snapshot(s) stored before %s\n", removed, cutoff.Format(time.RFC3339))
		return err
	},
}

func init() {
	addOutputFlags(snapshotsListCmd)
	snapshotsListCmd.Flags().String("kind", "", fmt.Sprintf("Only list one kind (%s)", snapshotKinds()))
	snapshotsPruneCmd.Flags().Duration("older-than", 7*24*time.Hour, "Delete snapshots stored longer ago than this")

	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsPruneCmd)
	rootCmd.AddCommand(snapshotsCmd)
}

func snapshotKinds() string {
	return fmt.Sprintf("%s, %s, %s", store.KindInsights, store.KindRepositories, store.KindBoard)
}
