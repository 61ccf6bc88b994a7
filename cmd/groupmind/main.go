package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	aierrors "github.com/hrygo/groupmind/internal/errors"
	"github.com/hrygo/groupmind/internal/observability"
	"github.com/hrygo/groupmind/internal/profile"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "groupmind",
	Short: "Context compression and long-term memory for multi-participant chat",
	PersistentPreRun: func(*cobra.Command, []string) {
		initLogger()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("data", "")
	viper.SetDefault("dsn", "")
	viper.SetDefault("log-level", "info")

	rootCmd.PersistentFlags().String("mode", "dev", `mode of the store, "prod", "dev" or "demo"`)
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver, sqlite or postgres")
	rootCmd.PersistentFlags().String("data", "", "data directory for the sqlite database")
	rootCmd.PersistentFlags().String("dsn", "", "database source name")
	rootCmd.PersistentFlags().String("log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().String("config", "", "optional config file (yaml, toml or json)")

	for _, name := range []string{"mode", "driver", "data", "dsn", "log-level", "config"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("groupmind")
	viper.AutomaticEnv()
	cobra.OnInitialize(readConfigFile)

	rootCmd.AddCommand(
		newGroupCmd(),
		newMessageCmd(),
		newContextCmd(),
		newArchiveCmd(),
		newRecallCmd(),
		newStatsCmd(),
		newBackfillCmd(),
		newSweepCmd(),
		newForgetCmd(),
	)
}

func readConfigFile() {
	file := viper.GetString("config")
	if file == "" {
		return
	}
	viper.SetConfigFile(file)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read config file %s: %v\n", file, err)
		os.Exit(1)
	}
}

func initLogger() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// loadProfile merges flags and config with the GROUPMIND_* AI settings.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Driver:  viper.GetString("driver"),
		Data:    viper.GetString("data"),
		DSN:     viper.GetString("dsn"),
		Version: version,
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := aierrors.GetCodeFromError(err, "")
		if code != "" {
			slog.Error("command failed", slog.String(observability.LogFieldErrorCode, string(code)), slog.String("error", err.Error()))
		} else {
			slog.Error("command failed", slog.String("error", err.Error()))
		}
		os.Exit(1)
	}
}
