package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/compcache"
	"github.com/hupe1980/compcache/server"
)

var statsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show server statistics",
	RunE:         runStats,
	SilenceUsage: true,
}

var zeroStatsCmd = &cobra.Command{
	Use:          "zero-stats",
	Short:        "Reset server statistics",
	RunE:         runZeroStats,
	SilenceUsage: true,
}

var shutdownCmd = &cobra.Command{
	Use:          "shutdown",
	Short:        "Stop a running server",
	RunE:         runShutdown,
	SilenceUsage: true,
}

func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *server.Client) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	c, err := server.Dial(ctx, viper.GetString("addr"))
	if err != nil {
		return fmt.Errorf("no server at %s (start one with \"compcache serve\"): %w", viper.GetString("addr"), err)
	}
	defer c.Close()

	return fn(ctx, c)
}

func printStats(cmd *cobra.Command, snap *compcache.StatsSnapshot) error {
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	cmd.Println(string(out))

	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *server.Client) error {
		snap, err := c.Stats(ctx)
		if err != nil {
			return err
		}

		return printStats(cmd, snap)
	})
}

func runZeroStats(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *server.Client) error {
		snap, err := c.ZeroStats(ctx)
		if err != nil {
			return err
		}

		return printStats(cmd, snap)
	})
}

func runShutdown(cmd *cobra.Command, _ []string) error {
	return withClient(cmd, func(ctx context.Context, c *server.Client) error {
		if err := c.Shutdown(ctx); err != nil {
			return err
		}

		cmd.Println("server shutting down")

		return nil
	})
}
