package commands

import (
	"fmt"

	"github.com/privacysandbox/pbs-go/internal/config"
	"github.com/spf13/cobra"
)

// NewCheckConfigCommand loads and validates configuration without starting
// any listener, so operators can lint a config change before rolling it
// out (mirrors the teacher CLI's config subcommand's dry-run intent).
func NewCheckConfigCommand(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate configuration, then exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			fmt.Printf("config OK: migration_phase=%s store.dsn=%s server.port=%d\n",
				cfg.Store.MigrationPhase, redactDSN(cfg.Store.DSN), cfg.Server.Port)
			return nil
		},
	}
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return "(unset)"
	}
	return "(set)"
}
