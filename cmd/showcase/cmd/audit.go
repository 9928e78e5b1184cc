package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jmcleod/showcase/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Security log inspection and verification tools",
	Long:  `Commands for listing, exporting and verifying the hash-linked security log.`,
}

func init() {
	rootCmd.AddCommand(auditCmd)
}

func withSecurityLog(cmd *cobra.Command, fn func(context.Context, *audit.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, closeRepo, err := openRepository(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closeRepo()
	return fn(cmd.Context(), audit.NewStore(repo))
}
