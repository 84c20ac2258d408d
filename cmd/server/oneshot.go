package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"finanzas-backend/internal/app"
	"finanzas-backend/internal/charts"
	"finanzas-backend/internal/features"
)

var planCmd = &cobra.Command{
	Use:   "plan [goal]",
	Short: "Generate a savings plan for a goal and print the render",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeature(cmd, func(a *app.App, uid string) features.Render {
			return a.Planner.Generate(cmd.Context(), uid, strings.Join(args, " "))
		})
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain [concept]",
	Short: "Explain a financial concept and print the render",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFeature(cmd, func(a *app.App, uid string) features.Render {
			return a.Explainer.Explain(cmd.Context(), uid, strings.Join(args, " "))
		})
	},
}

var chartsCmd = &cobra.Command{
	Use:   "charts",
	Short: "Print the chart configurations as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printJSON(charts.All())
	},
}

func runFeature(cmd *cobra.Command, run func(a *app.App, uid string) features.Render) error {
	a, err := app.New(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer a.Close()

	uid := a.Identity.Bootstrap(cmd.Context(), cfg.InitialAuthToken)
	r := run(a, uid)
	if err := printJSON(r); err != nil {
		return err
	}
	if r.State == features.StateRejected {
		return fmt.Errorf("input rejected")
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
