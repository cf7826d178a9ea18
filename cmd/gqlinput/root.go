package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	config "github.com/hanpama/gqlinput/internal/config"
)

// app is the state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:          "gqlinput",
		Short:        "GraphQL gateway built around per-request execution inputs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().String("log.level", config.Default().Log.Level, "log level: debug, info, warn, error")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log.level"))

	root.AddCommand(a.serveCmd(), a.inspectCmd())
	root.SetErrPrefix("gqlinput:")
	return root
}

func (a *app) load() (config.Config, error) {
	return config.Load(a.v, a.cfgFile)
}

func newLogger(w io.Writer, level string) (*log.Logger, error) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Prefix:          "gqlinput",
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	}), nil
}
