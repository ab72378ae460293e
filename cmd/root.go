// Package cmd implements the command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rongxinyin/pezzrr-app/app"
	"github.com/rongxinyin/pezzrr-app/config"
	"github.com/rongxinyin/pezzrr-app/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "pezzrr",
	Short: "Demand-response curtailment engine",
	RunE:  run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	err = svc.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}
