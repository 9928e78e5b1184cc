package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "showcase",
	Short: "Showcase serves the site content admin API",
	Long: `Showcase serves the admin API of the content showcase site: login,
session tokens, CSRF protection, rate limiting and the security log.
Complete documentation is available at https://github.com/jmcleod/showcase`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to showcase.yaml (defaults apply when empty)")
}
