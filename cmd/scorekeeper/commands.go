package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/okian/rally/internal/config"
	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/internal/simulator"
	"github.com/okian/rally/internal/viewer"
	"github.com/okian/rally/pkg/logger"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	URL     string
	Timeout time.Duration
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the scorekeeper CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scorekeeper",
		Short: "Drive and watch the rally scoring service",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.Format != "text" && opts.Format != "json" {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				return logger.SetLevelString("debug")
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.URL, "url", "http://localhost:9080", "base URL of the scoring service")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", simulator.DefaultTimeout, "HTTP request timeout")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewSimulateCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewRulesCommand(opts))
	return cmd
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	cfg := simulator.Config{}
	var sport string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play matches with concurrent scorekeepers and verify the results",
		Long: `Create matches, let several scorekeepers post points, undos, timeouts and
substitutions to each one at the same time, and verify every finished match: no negative
score, set wins with the required margin, a majority of sets for the winner,
and an event log that replays to the stored state.

Exit codes:
  0 - every match verified
  1 - a match failed verification or the service could not be reached`,
		Example: `  scorekeeper simulate --matches 8 --scorekeepers 4 --sport table_tennis
  scorekeeper simulate --undo-rate 0.1 --output report.json --format json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.BaseURL = rootOpts.URL
			cfg.Timeout = rootOpts.Timeout
			cfg.Verbose = rootOpts.Verbose
			cfg.Sport = model.Sport(sport)
			report, err := simulator.Run(cmd.Context(), cfg)
			if report != nil {
				if werr := writeReport(cmd.OutOrStdout(), rootOpts.Format, report); werr != nil {
					return werr
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&sport, "sport", "", "sport of the simulated matches (server default when empty)")
	f.IntVar(&cfg.Matches, "matches", simulator.DefaultMatches, "matches played concurrently")
	f.IntVar(&cfg.Scorekeepers, "scorekeepers", simulator.DefaultScorekeepers, "concurrent scorekeepers per match")
	f.IntVar(&cfg.MaxActions, "max-actions", simulator.DefaultMaxActions, "action cap per scorekeeper")
	f.Float64Var(&cfg.UndoRate, "undo-rate", 0.05, "chance of undoing a point")
	f.Float64Var(&cfg.TimeoutRate, "timeout-rate", 0.02, "chance of calling a timeout")
	f.Float64Var(&cfg.SubRate, "sub-rate", 0.01, "chance of recording a substitution")
	f.DurationVar(&cfg.ViewerRate, "viewer-interval", simulator.DefaultViewerRate, "debounce floor of the live viewer")
	f.StringVar(&cfg.OutputFile, "output", "", "write the JSON report to this file")
	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch MATCH_ID",
		Short: "Follow a match live until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !cmd.Flags().Changed("interval") {
				cfg, err := config.Load(ctx)
				if err != nil {
					return err
				}
				interval = cfg.ViewerMinInterval()
			}
			client := simulator.NewClient(rootOpts.URL, rootOpts.Timeout)
			done := make(chan struct{})

			var printErr error
			w := viewer.New(client, args[0],
				viewer.WithMinInterval(interval),
				viewer.WithOnUpdate(func(snap types.Snapshot) {
					if err := writeSnapshot(out, rootOpts.Format, snap); err != nil && printErr == nil {
						printErr = err
					}
					if snap.Match.Status == model.StatusFinished {
						select {
						case <-done:
						default:
							close(done)
						}
					}
				}),
			)
			w.Start(ctx)

			select {
			case <-ctx.Done():
			case <-done:
			}
			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rootOpts.Timeout)
			defer cancel()
			if err := w.Stop(stopCtx); err != nil {
				return err
			}
			return printErr
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "minimum time between refreshes (default from RALLY_VIEWER_MIN_INTERVAL_MS)")
	return cmd
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "rules SPORT",
		Short:     "Show the default rules of a sport",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(model.SportVolleyball), string(model.SportBeachVolleyball), string(model.SportTableTennis)},
		RunE: func(cmd *cobra.Command, args []string) error {
			client := simulator.NewClient(rootOpts.URL, rootOpts.Timeout)
			rs, err := client.Rules(cmd.Context(), model.Sport(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, rs)
			}
			_, err = fmt.Fprintf(out,
				"%s: best of %d, sets to %d (deciding set %d), win by %d, %d timeouts per set, %d substitutions per %s\n",
				rs.Sport, rs.TotalSets, rs.PointsPerSet, rs.PointsToWin(rs.TotalSets), rs.MinDifference,
				rs.MaxTimeouts, rs.MaxSubstitutions, rs.SubstitutionScope)
			return err
		},
	}
}

func writeReport(out io.Writer, format string, report *simulator.Report) error {
	if format == "json" {
		return writeJSON(out, report)
	}
	for _, m := range report.Matches {
		status := "ok"
		if len(m.Problems) > 0 {
			status = fmt.Sprintf("%d problems", len(m.Problems))
		}
		if _, err := fmt.Fprintf(out, "%s  %-11s winner=%-4s sets=%s  %v  v%d  %s\n",
			m.MatchID, m.Status, m.Winner, m.SetsWon, m.Sets, m.Version, status); err != nil {
			return err
		}
		for _, p := range m.Problems {
			if _, err := fmt.Fprintf(out, "    - %s\n", p); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(out, "submitted=%d accepted=%d rejected=%d conflicts=%d failed=%d in %s\n",
		report.Submitted, report.Accepted, report.Rejected, report.Conflicts, report.Failed,
		report.Duration.Round(time.Millisecond))
	return err
}

func writeSnapshot(out io.Writer, format string, snap types.Snapshot) error {
	if format == "json" {
		return writeJSON(out, snap)
	}
	current := "-"
	if n := len(snap.Sets); n > 0 {
		s := snap.Sets[n-1]
		current = fmt.Sprintf("set %d %s", s.Number, s.Score)
	}
	line := fmt.Sprintf("v%d %s %s vs %s  sets %s  %s",
		snap.Version, snap.Match.Status, snap.Match.Home.Name, snap.Match.Away.Name, snap.Match.SetsWon, current)
	if n := len(snap.Highlights); n > 0 {
		line += "  | " + snap.Highlights[n-1].Text
	}
	_, err := fmt.Fprintln(out, line)
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
