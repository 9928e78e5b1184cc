package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/showcase/config"
	"github.com/jmcleod/showcase/internal/util"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration with a fresh signing secret",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "showcase.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := initConfig(path, configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration given with --config",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.RequireSecret(); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "listen:    %s (tls: %t)\n", cfg.Addr(), !cfg.Server.Insecure)
		fmt.Fprintf(out, "storage:   %s\n", cfg.Storage.Driver)
		fmt.Fprintf(out, "csrf:      %s store, ttl %s\n", cfg.CSRF.Store, cfg.CSRF.TTL)
		for _, t := range []struct {
			name string
			tier config.TierConfig
		}{
			{"admin", cfg.RateLimits.Admin},
			{"auth", cfg.RateLimits.Auth},
			{"upload", cfg.RateLimits.Upload},
		} {
			fmt.Fprintf(out, "limit:     %s %d per %s\n", t.name, t.tier.Max, t.tier.Window)
		}
		fmt.Fprintf(out, "analytics: %s\n", cfg.Audit.Analytics)
		fmt.Fprintln(out, "OK")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configCheckCmd)
	configInitCmd.Flags().BoolVarP(&configForce, "force", "f", false, "Overwrite an existing file")
}

// initConfig writes config.Default with a random signing secret.
func initConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	secret, err := util.RandomHex(config.MinJWTSecretLen)
	if err != nil {
		return fmt.Errorf("generating signing secret: %w", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	return config.Save(path, cfg)
}
