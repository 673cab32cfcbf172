package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var syncAlertsCmd = &cobra.Command{
	Use:   "sync-alerts",
	Short: "Run one alert reconciliation cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if a.alerts == nil {
			return errors.New("alert sync needs both DATABASE_URL and NMS_URL")
		}

		n, err := a.alerts.SyncOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %d alerts\n", n)
		return nil
	},
}

var (
	trendDays     int
	trendLocation string
)

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Print the daily uptime trend as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		var loc *int64
		if trendLocation != "" {
			v, err := strconv.ParseInt(trendLocation, 10, 64)
			if err != nil || v <= 0 {
				return fmt.Errorf("--location must be a positive integer, got %q", trendLocation)
			}
			loc = &v
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if a.trends == nil {
			return errors.New("uptime trend needs DATABASE_URL")
		}

		t, err := a.trends.Trend(cmd.Context(), trendDays, loc)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

func init() {
	trendCmd.Flags().IntVar(&trendDays, "days", 7, "number of days to report (1-30)")
	trendCmd.Flags().StringVar(&trendLocation, "location", "", "restrict to one location id")
}
