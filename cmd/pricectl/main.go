package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pricingd/pkg/types"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:           "pricectl",
		Short:         "Control the pricingd model serving daemon",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("PRICINGD_ADDR", "http://127.0.0.1:8080"), "Base URL of the pricingd API")

	root.AddCommand(deployCmd(&addr))
	root.AddCommand(rollbackCmd(&addr))
	root.AddCommand(statusCmd(&addr))
	root.AddCommand(versionsCmd(&addr))
	root.AddCommand(predictCmd(&addr))
	root.AddCommand(metricsCmd(&addr))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func deployCmd(addr *string) *cobra.Command {
	var description string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "deploy <version-id>",
		Short: "Deploy a registered model version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.DeployResponse
			err := newClient(*addr).post(cmd.Context(), "/deploy", types.DeployRequest{
				VersionID:   args[0],
				Description: description,
				DryRun:      dryRun,
			}, &resp)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Free-form deployment note")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Verify and gate without swapping")
	return cmd
}

func rollbackCmd(addr *string) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll back to a previously deployed version",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.RollbackResponse
			err := newClient(*addr).post(cmd.Context(), "/rollback", types.RollbackRequest{Steps: steps}, &resp)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of deployments to step back")
	return cmd
}

func statusCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current version, recent metrics and alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp types.StatusResponse
			if err := newClient(*addr).get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func versionsCmd(addr *string) *cobra.Command {
	var tags []string
	var minMetrics []string

	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List registered model versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if len(tags) > 0 {
				q.Set("tags", strings.Join(tags, ","))
			}
			for _, m := range minMetrics {
				name, val, ok := strings.Cut(m, "=")
				if !ok {
					return fmt.Errorf("invalid --min %q, expected metric=value", m)
				}
				if _, err := strconv.ParseFloat(val, 64); err != nil {
					return fmt.Errorf("invalid --min %q: %v", m, err)
				}
				q.Set("min_"+name, val)
			}
			path := "/versions"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			var resp types.VersionsResponse
			if err := newClient(*addr).get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "Only versions carrying this tag (repeatable)")
	cmd.Flags().StringSliceVar(&minMetrics, "min", nil, "Metric floor, e.g. --min accuracy=0.9 (repeatable)")
	return cmd
}

func predictCmd(addr *string) *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "predict <state.json>",
		Short: "Score a market state file against the active model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var state types.MarketState
			if err := json.Unmarshal(b, &state); err != nil {
				return fmt.Errorf("parse %s: %v", args[0], err)
			}
			if async {
				return newClient(*addr).post(cmd.Context(), "/predict", types.PredictRequest{State: state, Async: true}, nil)
			}
			var resp types.PredictResponse
			if err := newClient(*addr).post(cmd.Context(), "/predict", types.PredictRequest{State: state}, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Enqueue for background scoring, no result printed")
	return cmd
}

func metricsCmd(addr *string) *cobra.Command {
	var windowHours float64

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show windowed performance and health averages",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/metrics/summary?window_hours=%g", windowHours)
			var resp types.MetricsResponse
			if err := newClient(*addr).get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().Float64Var(&windowHours, "window-hours", 24, "Aggregation window in hours")
	return cmd
}
