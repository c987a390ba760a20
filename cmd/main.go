package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	cfgPkg "github.com/xhad/brief/pkg/config"
	"github.com/xhad/brief/pkg/logging"
	"go.uber.org/zap"
)

type rootFlags struct {
	configPath string
	baseURL    string
	model      string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "brief",
		Short:         "Summarize documents and ask follow-up questions about them",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&flags.baseURL, "llm-url", "", "Generation service URL")
	root.PersistentFlags().StringVar(&flags.model, "model", "", "Summary model id")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newSummarizeCmd(flags),
		newServeCmd(flags),
		newSimilarCmd(flags),
		newShowCmd(flags),
		newModelsCmd(flags),
	)
	return root
}

// load reads the config file, applies flag overrides and validates the result.
func load(flags *rootFlags) (*cfgPkg.Config, *zap.Logger, error) {
	cfg, err := cfgPkg.LoadConfig(flags.configPath)
	if err != nil {
		return nil, nil, err
	}

	// Flags win over file and environment.
	if flags.baseURL != "" {
		cfg.LLM.BaseURL = flags.baseURL
	}
	if flags.model != "" {
		cfg.LLM.Model = flags.model
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red("config: %s", e.Error())
		}
		return nil, nil, fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
