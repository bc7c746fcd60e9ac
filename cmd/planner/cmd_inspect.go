package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"planner/internal/app"
)

var (
	nextPlan  string
	nextCount int
	nextFrom  string

	historyPlan  string
	historyLimit int
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := app.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		enabled := 0
		for _, p := range cfg.Plans {
			if !p.Disabled {
				enabled++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d plans, %d enabled)\n", cfgPath, len(cfg.Plans), enabled)
		return nil
	},
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the upcoming firings of a plan",
	Example: `  planner next --plan backup
  planner next --plan backup -n 10 --from 2026-01-01T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		from := time.Now()
		if nextFrom != "" {
			t, err := time.Parse(time.RFC3339, nextFrom)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			from = t
		}
		times, err := app.Upcoming(cmd.Context(), cfgPath, nextPlan, nextCount, from)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(times) == 0 {
			fmt.Fprintln(out, "no upcoming firings")
			return nil
		}
		for _, t := range times {
			fmt.Fprintln(out, t.Format(time.RFC3339))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recorded firings of a plan, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		recs, err := app.History(cmd.Context(), cfgPath, historyPlan, historyLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTRIGGER\tSCHEDULED\tFIRED\tOUTCOME\tERROR")
		for _, r := range recs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				r.Seq, r.Trigger, fmtTime(r.ScheduledAt), fmtTime(r.FiredAt), r.Outcome, r.Error)
		}
		return w.Flush()
	},
}

func init() {
	nextCmd.Flags().StringVarP(&nextPlan, "plan", "p", "", "plan name")
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "number of firings to print")
	nextCmd.Flags().StringVar(&nextFrom, "from", "", "start instant (RFC3339); defaults to now")
	_ = nextCmd.MarkFlagRequired("plan")

	historyCmd.Flags().StringVarP(&historyPlan, "plan", "p", "", "plan name")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum records to print")
	_ = historyCmd.MarkFlagRequired("plan")
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
