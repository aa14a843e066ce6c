package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/arvscout/arvscout/internal/app"
	"github.com/arvscout/arvscout/internal/valuation"
	"github.com/arvscout/arvscout/pkg/models"
	"github.com/arvscout/arvscout/pkg/utils"
)

func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().String("address", "", "street address (required)")
	cmd.Flags().String("city", "", "city (required)")
	cmd.Flags().String("state", "", "state code or name (required)")
	cmd.Flags().String("zip", "", "ZIP code (required)")
	cmd.Flags().String("provider-id", "", "provider-specific property id")
	cmd.Flags().Bool("refresh", false, "bypass cached results")
}

func identityFlags(cmd *cobra.Command) models.Identity {
	get := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	return models.Identity{
		Address:    get("address"),
		City:       get("city"),
		State:      get("state"),
		Zip:        get("zip"),
		ProviderID: get("provider-id"),
	}
}

// --- Comps Command ---

var compsCmd = &cobra.Command{
	Use:   "comps",
	Short: "Acquire comparable sales through the provider waterfall",
	Example: `  arvscout comps --address "123 Main St" --city "Los Angeles" --state CA --zip 90001`,
	RunE: func(cmd *cobra.Command, args []string) error {
		id := identityFlags(cmd)
		refresh, _ := cmd.Flags().GetBool("refresh")

		return withApp(cmd.Context(), func(a *app.App) error {
			res, err := a.Engine.FetchComparables(cmd.Context(), id, refresh)
			if err != nil {
				return err
			}
			if asJSON(cmd) {
				return printJSON(res)
			}

			fmt.Printf("Comparables for %s\n", id.OneLine())
			if res.Exhausted {
				fmt.Printf("  %s\n", res.Message)
				return nil
			}
			src := res.DataSource
			if res.Cached {
				src += " (cached)"
			}
			lo, hi := priceRange(res.Comparables)
			fmt.Printf("  Source: %s, tier %d, %d sales from %s to %s\n\n",
				src, res.Tier, len(res.Comparables), utils.FormatUSDCompact(lo), utils.FormatUSDCompact(hi))
			for _, c := range res.Comparables {
				date := "undated"
				if !c.SaleDate.IsZero() {
					date = c.SaleDate.Format("2006-01-02")
				}
				fmt.Printf("  %-40s %12s  %s  %s\n", c.Address, utils.FormatUSD(c.Price), date, c.Condition)
			}
			return nil
		})
	},
}

// --- Estimate Command ---

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Compute the After-Repair Value of a property",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := valuation.Request{Identity: identityFlags(cmd)}
		req.ForceRefresh, _ = cmd.Flags().GetBool("refresh")
		req.PurchasePrice, _ = cmd.Flags().GetFloat64("purchase-price")
		req.Subject.SquareFeet, _ = cmd.Flags().GetFloat64("sqft")
		req.Subject.Beds, _ = cmd.Flags().GetFloat64("beds")
		req.Subject.Baths, _ = cmd.Flags().GetFloat64("baths")
		check, _ := cmd.Flags().GetBool("validate")

		return withApp(cmd.Context(), func(a *app.App) error {
			res, err := a.Valuer.Estimate(cmd.Context(), req)
			if err != nil {
				return err
			}
			var v *models.HistoricalValidation
			if check {
				hv := a.Validator.Validate(cmd.Context(), res.Valuation.Value, req.Identity)
				v = &hv
			}
			if asJSON(cmd) {
				return printJSON(struct {
					*valuation.Result
					Validation *models.HistoricalValidation `json:"validation,omitempty"`
				}{res, v})
			}

			fmt.Printf("After-Repair Value for %s\n", req.Identity.OneLine())
			fmt.Printf("  Value:   %s\n", utils.FormatUSD(res.Valuation.Value))
			fmt.Printf("  Method:  %s\n", res.Valuation.Method)
			for _, s := range res.Valuation.Sources {
				fmt.Printf("    %-22s %14s  weight %.1f%%\n", s.Name, utils.FormatUSD(s.Value), s.Weight*100)
			}
			printWarnings(res.Warnings)
			if v != nil {
				printValidation(*v)
			}
			return nil
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{compsCmd, estimateCmd, validateCmd} {
		addIdentityFlags(c)
	}
	estimateCmd.Flags().Float64("purchase-price", 0, "purchase price, used when no market evidence exists")
	estimateCmd.Flags().Float64("sqft", 0, "subject living area in square feet")
	estimateCmd.Flags().Float64("beds", 0, "subject bedroom count")
	estimateCmd.Flags().Float64("baths", 0, "subject bathroom count")
	estimateCmd.Flags().Bool("validate", false, "also validate the value against sales history")

	validateCmd.Flags().Float64("value", 0, "value to validate (required)")
	_ = validateCmd.MarkFlagRequired("value")

	ratesCmd.Flags().String("series", "MORTGAGE30US", "rate series id")
}

// --- Validate Command ---

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a value against the property's sales history and local market",
	RunE: func(cmd *cobra.Command, args []string) error {
		id := identityFlags(cmd)
		value, _ := cmd.Flags().GetFloat64("value")

		return withApp(cmd.Context(), func(a *app.App) error {
			v := a.Validator.Validate(cmd.Context(), value, id)
			if asJSON(cmd) {
				return printJSON(v)
			}
			fmt.Printf("Validation of %s for %s\n", utils.FormatUSD(value), id.OneLine())
			printValidation(v)
			return nil
		})
	},
}

// --- Rates Command ---

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Show the latest mortgage rate observation",
	RunE: func(cmd *cobra.Command, args []string) error {
		series, _ := cmd.Flags().GetString("series")
		return withApp(cmd.Context(), func(a *app.App) error {
			rate, err := a.Engine.FetchMortgageRate(cmd.Context(), series)
			if err != nil {
				return err
			}
			if rate == nil {
				return fmt.Errorf("no observation available for %s", strings.ToUpper(series))
			}
			if asJSON(cmd) {
				return printJSON(rate)
			}
			fmt.Printf("%s: %.2f%% as of %s (%s)\n", rate.SeriesID, rate.Rate, rate.AsOf.Format("2006-01-02"), rate.Source)
			return nil
		})
	},
}

func priceRange(comps []models.Comparable) (lo, hi float64) {
	for i, c := range comps {
		if i == 0 || c.Price < lo {
			lo = c.Price
		}
		if c.Price > hi {
			hi = c.Price
		}
	}
	return lo, hi
}

func printValidation(v models.HistoricalValidation) {
	verdict := "consistent with history"
	if !v.IsValid {
		verdict = "deviates from history"
	}
	fmt.Printf("  History: %s\n", verdict)
	if v.HistoricalProjectedValue > 0 {
		fmt.Printf("    Projected: %s (deviation %s, CAGR %s)\n",
			utils.FormatUSD(v.HistoricalProjectedValue), utils.FormatPct(v.DeviationRatio), utils.FormatPct(v.CAGR))
	}
	fmt.Printf("    Market:    %s\n", v.MarketTrend)
	fmt.Printf("    Holding:   %s\n", v.HoldingPattern)
	printWarnings(v.Warnings)
}

func printWarnings(warnings []string) {
	for _, w := range warnings {
		fmt.Printf("  ! %s\n", w)
	}
}
