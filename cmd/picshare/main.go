package main

import (
	"fmt"
	"os"

	"github.com/jmerrifield20/picshare/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "picshare",
	Short: "picshare account service",
	Long: `picshare runs the account service of picshare: password accounts,
social login through Google, GitHub and Facebook, and the management of the
social logins linked to an account.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/picshare.yaml or ./picshare.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the picshare version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "picshare", version)
	},
}

// loadConfig reads the configuration selected by --config.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger builds the process logger from the log settings.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log.level: %w", err)
		}
		zcfg.Level = level
	}
	return zcfg.Build()
}
