package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arvscout/arvscout/api"
	"github.com/arvscout/arvscout/internal/app"
)

// --- Quota Command ---

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show provider request quotas for the current period",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			report := a.Engine.QuotaReport(cmd.Context())
			if asJSON(cmd) {
				return printJSON(report)
			}

			names := make([]string, 0, len(report))
			for name := range report {
				names = append(names, name)
			}
			sort.Strings(names)

			fmt.Printf("  %-10s %-8s %10s %10s %10s  %s\n", "PROVIDER", "PERIOD", "USED", "THRESHOLD", "LIMIT", "RESETS")
			for _, name := range names {
				st := report[name]
				mark := ""
				if !st.Available {
					mark = "  (paused)"
				}
				fmt.Printf("  %-10s %-8s %10d %10d %10d  %s%s\n",
					name, st.Period, st.Used, st.Threshold, st.Limit, st.ResetDate.Format("2006-01-02"), mark)
			}
			return nil
		})
	},
}

// --- Cache Command ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage cached provider results",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear [prefix]",
	Short: "Remove cached results, optionally only one key family",
	Long: `Remove cached results. Quota counters are never touched.

Examples:
  arvscout cache clear
  arvscout cache clear comps_`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			n, err := a.Engine.ClearCache(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d cached entries\n", n)
			return nil
		})
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.API.Port = port
		}

		return withApp(ctx, func(a *app.App) error {
			srv, err := api.NewServer(cfg, api.Deps{
				Engine:    a.Engine,
				Valuer:    a.Valuer,
				Validator: a.Validator,
				Metrics:   a.Metrics,
				Logger:    logger.Named("api"),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Starting arvscout API server on %s\n", cfg.Addr())
			return srv.ListenAndServe(ctx, cfg.Addr())
		})
	},
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port override")
}
