package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mp_harvester/internal/domain"
	"mp_harvester/internal/scheduler"
)

type windowFlags struct {
	begin string
	end   string
}

func (w *windowFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.begin, "begin", "", "first day to cover, YYYY-MM-DD (default: end minus sync.lookback_days)")
	cmd.Flags().StringVar(&w.end, "end", "", "last day to cover, YYYY-MM-DD (default: today)")
}

func (c *cli) window(w windowFlags) (domain.Interval, error) {
	begin, end := w.begin, w.end
	if begin == "" {
		begin = c.cfg.Sync.Begin
	}
	if end == "" {
		end = c.cfg.Sync.End
	}

	loc, err := c.cfg.Location()
	if err != nil {
		return domain.Interval{}, err
	}
	return requestedWindow(begin, end, c.cfg.Sync.LookbackDays, c.startedAt, loc)
}

// sources returns args when given, the configured sources otherwise. An empty
// result lets the harvester fall back to every cached account.
func (c *cli) sources(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return c.cfg.Sync.Sources
}

func (c *cli) syncCommand() *cobra.Command {
	var w windowFlags
	var maxItems int

	cmd := &cobra.Command{
		Use:   "sync [source...]",
		Short: "Discover items of the given sources over a date window",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := c.sources(args)
			requested, err := c.window(w)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-items") {
				c.cfg.Sync.MaxItems = maxItems
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.harvester.ResolveSources(cmd.Context(), names)
			if err != nil {
				return err
			}

			reports, err := a.harvester.SynchronizeAll(cmd.Context(), accounts, requested)
			printSyncReports(os.Stdout, reports)
			if err != nil {
				return err
			}
			return failedSources(reports)
		},
	}
	w.register(cmd)
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "stop paginating after this many items (0: no limit)")
	return cmd
}

func (c *cli) materializeCommand() *cobra.Command {
	var w windowFlags
	var all bool

	cmd := &cobra.Command{
		Use:   "materialize [source...]",
		Short: "Write the content of stored items to the output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := c.sources(args)

			var window *domain.Interval
			if !all {
				requested, err := c.window(w)
				if err != nil {
					return err
				}
				window = &requested
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.harvester.MaterializeSources(cmd.Context(), names, window)
			if err != nil {
				return err
			}
			printRetrievalSummary(os.Stdout, summary)
			return cmd.Context().Err()
		},
	}
	w.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "ignore the date window and materialize every stored item")
	return cmd
}

func (c *cli) runCommand() *cobra.Command {
	var w windowFlags

	cmd := &cobra.Command{
		Use:   "run [source...]",
		Short: "Synchronize sources, then materialize the items in the window",
		RunE: func(cmd *cobra.Command, args []string) error {
			names := c.sources(args)
			requested, err := c.window(w)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.harvester.Run(cmd.Context(), names, requested)
			printSyncReports(os.Stdout, report.Syncs)
			if err != nil {
				return err
			}
			printRetrievalSummary(os.Stdout, report.Retrieval)
			return failedSources(report.Syncs)
		},
	}
	w.register(cmd)
	return cmd
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the configured sources periodically until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			c.logger.Info("starting harvester",
				"sources", c.cfg.Sync.Sources,
				"interval", c.cfg.Sync.Interval,
				"lookback_days", c.cfg.Sync.LookbackDays,
			)

			sched := scheduler.NewScheduler(a.harvester, c.cfg.Sync.Interval, c.cfg.Sync.RunTimeout, c.logger)
			if err := sched.Start(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return err
			}
			return nil
		},
	}
}

func (c *cli) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored coverage and item counts per source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			statuses, err := a.harvester.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(os.Stdout, statuses, a.location)
			return nil
		},
	}
}

func (c *cli) resetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset source...",
		Short: "Forget stored coverage and items of the given sources",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.harvester.Reset(cmd.Context(), args)
		},
	}
}

func failedSources(reports []*domain.SyncReport) error {
	var failed []string
	for _, r := range reports {
		if r.Err != nil {
			failed = append(failed, r.Source)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d source(s) failed: %v", len(failed), failed)
	}
	return nil
}
