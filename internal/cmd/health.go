package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pulsegate/pulsegate/internal/config"
	errwrap "github.com/pulsegate/pulsegate/internal/errors"
	"github.com/pulsegate/pulsegate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the application can start successfully.",
	Run: func(cmd *cobra.Command, args []string) {
		observability.CLILogger.Info("Running health check...")

		// Check 1: Version info available
		if versionInfo.Version == "" {
			observability.CLILogger.Error("❌ FAIL: Version information missing")
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		observability.CLILogger.Debug("Version check passed", zap.String("version", versionInfo.Version))
		observability.CLILogger.Info("✅ Version information available")

		// Check 2: Logger initialized
		if observability.CLILogger == nil {
			// Can't log if logger is nil, so use stderr
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		observability.CLILogger.Info("✅ Logger initialized")

		// Check 3: Configuration decodes
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		observability.CLILogger.Info("✅ Configuration loaded")

		// Check 4: Archive reachable (optional)
		if cfg.Store.Enabled {
			db, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				observability.CLILogger.Warn("⚠️  Snapshot archive unavailable; fallback limited to memory cache", zap.Error(err))
			} else {
				_ = db.Close()
				observability.CLILogger.Info("✅ Snapshot archive reachable")
			}
		}

		// Check 5: Upstream credentials present
		if trelloConfigured(cfg.Trello) {
			observability.CLILogger.Info("✅ Trello credentials configured")
		} else {
			observability.CLILogger.Info("ℹ️  Trello credentials not configured; board commands disabled")
		}

		// Overall status
		observability.CLILogger.Info("")
		observability.CLILogger.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
