// Command collector pulls the mailbox from a hydro controller into a database
// and can inspect or change the controller's settings.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/gr-butler/hydro/api"
	"github.com/gr-butler/hydro/collector"
	"github.com/gr-butler/hydro/data"
	"github.com/gr-butler/hydro/db"
	"github.com/gr-butler/hydro/settings"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	manager string
	timeout time.Duration
	driver  string
	dsn     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "collector",
		Short:         "Collect readings and pump events from a hydro controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.manager, "manager", "localhost", "controller host or URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&opts.driver, "db-driver", envOr("HYDRO_DB_DRIVER", "mysql"), "postgres, mysql or sqlite")
	root.PersistentFlags().StringVar(&opts.dsn, "dsn", os.Getenv("HYDRO_DB_DSN"), "database DSN")

	root.AddCommand(
		newCollectCmd(opts),
		newPulsesCmd(opts),
		newSettingsCmd(opts),
		newSetCmd(opts),
		newSaveCmd(opts),
		newToggleCmd(opts),
	)
	return root
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func openDB(ctx context.Context, opts *options) (*db.DB, error) {
	if opts.dsn == "" {
		return nil, fmt.Errorf("no database DSN, set --dsn or HYDRO_DB_DSN")
	}
	store, err := db.Open(opts.driver, opts.dsn)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func newCollectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Fetch the mailbox once and store it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openDB(ctx, opts)
			if err != nil {
				return err
			}
			defer store.Close()
			m, err := collector.Collect(ctx, collector.New(opts.manager, opts.timeout), store)
			if err != nil {
				return err
			}
			printMailbox(cmd.OutOrStdout(), m, time.Now())
			return nil
		},
	}
}

func newPulsesCmd(opts *options) *cobra.Command {
	limit := 20
	cmd := &cobra.Command{
		Use:   "pulses",
		Short: "List the most recent stored pump pulses",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openDB(ctx, opts)
			if err != nil {
				return err
			}
			defer store.Close()
			pulses, err := store.RecentPulses(ctx, limit)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, p := range pulses {
				fmt.Fprintln(cmd.OutOrStdout(), formatPulse(p, now))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", limit, "number of pulses")
	return cmd
}

func newSettingsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Show the controller settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := collector.New(opts.manager, opts.timeout).Settings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newSetCmd(opts *options) *cobra.Command {
	var (
		autoPH    bool
		mode      string
		interval  time.Duration
		phDose    time.Duration
		refillLen time.Duration
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change controller settings; unspecified values are kept",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := collector.New(opts.manager, opts.timeout)
			current, err := c.Settings(ctx)
			if err != nil {
				return err
			}
			// flags are absent-means-off on the controller, so carry the current ones
			f := settings.Form{
				AutoPH:    current.AutoPH,
				Refill:    current.RefillMode == settings.RefillOn.String(),
				Circulate: current.RefillMode == settings.RefillCirculate.String(),
			}
			if cmd.Flags().Changed("auto-ph") {
				f.AutoPH = autoPH
			}
			if cmd.Flags().Changed("refill-mode") {
				switch mode {
				case settings.RefillOff.String():
					f.Refill, f.Circulate = false, false
				case settings.RefillOn.String():
					f.Refill, f.Circulate = true, false
				case settings.RefillCirculate.String():
					f.Refill, f.Circulate = false, true
				default:
					return fmt.Errorf("unknown refill mode %q", mode)
				}
			}
			if cmd.Flags().Changed("interval") {
				f.PhStabilizeInterval = interval.String()
			}
			if cmd.Flags().Changed("ph-dose") {
				f.PhDoseLength = phDose.String()
			}
			if cmd.Flags().Changed("refill-dose") {
				f.RefillDoseLength = refillLen.String()
			}
			v, err := c.UpdateSettings(ctx, f)
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&autoPH, "auto-ph", true, "automatic pH correction")
	cmd.Flags().StringVar(&mode, "refill-mode", "", "off, on or circulate")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pH stabilize interval")
	cmd.Flags().DurationVar(&phDose, "ph-dose", 0, "pH dose length")
	cmd.Flags().DurationVar(&refillLen, "refill-dose", 0, "refill dose length")
	return cmd
}

func newSaveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Persist the current settings as the controller defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := collector.New(opts.manager, opts.timeout).SaveSettings(cmd.Context())
			if err != nil {
				return err
			}
			printSettings(cmd.OutOrStdout(), v)
			return nil
		},
	}
}

func newToggleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle",
		Short: "Toggle the system enable switch",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := collector.New(opts.manager, opts.timeout).Toggle(cmd.Context())
			if err != nil {
				return err
			}
			if !r.Toggled {
				logger.Warn("Toggle ignored, too soon after the last change")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enabled: %v\n", r.Enabled)
			return nil
		},
	}
}

func formatPulse(p data.PumpPulseEvent, now time.Time) string {
	s := fmt.Sprintf("%-8v %6.1fs  %v", p.Pump, p.PulseLength.Seconds(), humanize.RelTime(p.Timestamp, now, "ago", "from now"))
	if p.Interrupted {
		s += "  interrupted"
	}
	if p.Automatic {
		s += "  auto"
	}
	return s
}

func printMailbox(w io.Writer, m data.Mailbox, now time.Time) {
	r := m.Reading()
	fmt.Fprintf(w, "reading %v: pH %.2f, TDS %v ppm, %.1fC, %.0f%% RH\n",
		humanize.RelTime(r.Timestamp, now, "ago", "from now"), r.PH, humanize.Ftoa(r.TDS), r.Temperature, r.Humidity)
	fmt.Fprintf(w, "%v stored\n", english.Plural(len(m.PulseEvents), "pulse", "pulses"))
	for _, e := range m.Events() {
		fmt.Fprintln(w, formatPulse(e, now))
	}
}

func printSettings(w io.Writer, v api.SettingsView) {
	fmt.Fprintf(w, "version:               %v\n", v.Version)
	fmt.Fprintf(w, "auto pH:               %v\n", v.AutoPH)
	fmt.Fprintf(w, "refill mode:           %v\n", v.RefillMode)
	fmt.Fprintf(w, "pH stabilize interval: %v\n", v.PhStabilizeInterval)
	fmt.Fprintf(w, "pH dose length:        %v\n", v.PhDoseLength)
	fmt.Fprintf(w, "refill dose length:    %v\n", v.RefillDoseLength)
}
