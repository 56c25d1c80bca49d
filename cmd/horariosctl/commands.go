package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rodaine/table"
	"github.com/spf13/cobra"

	"horarios/internal/cache"
	"horarios/internal/clock"
	"horarios/internal/db"
	"horarios/internal/departures"
	"horarios/internal/schedule"
	"horarios/internal/stops"
)

func newStatusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show which tier would serve the board now, and the state of each tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := e.chain(ctx)
			if err != nil {
				return err
			}
			res := c.Load(ctx)
			now := clock.Capture(time.Now().In(e.cfg.Location))

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (%s)\n", clock.LongDate(now.Instant), now.Time, now.WeekdayKey)
			fmt.Fprintf(out, "provenance: %s, %d lines\n", res.Provenance, len(res.Dataset))
			fmt.Fprintln(out, res.Provenance.Message())

			tbl := table.New("Tier", "Status", "Detail").WithWriter(out)
			tbl.AddRow("remote store", remoteStatus(cmd, e), "")
			for _, f := range res.Failures {
				tbl.AddRow(f.Tier, "failed: "+f.Reason, f.Err)
			}

			store, err := e.cache(ctx)
			if err != nil {
				return err
			}
			keys, err := store.Len(ctx)
			if err != nil {
				return fmt.Errorf("cache: %w", err)
			}
			snap, err := store.LoadSnapshot(ctx)
			switch {
			case err == nil:
				tbl.AddRow(schedule.ProvenanceCache, fmt.Sprintf("%d lines, %d bytes", len(snap.Dataset), snap.Bytes), "saved "+savedAt(snap.SavedAt))
			case errors.Is(err, cache.ErrNotFound):
				tbl.AddRow(schedule.ProvenanceCache, "empty", fmt.Sprintf("%s (%d keys)", store.Path(), keys))
			default:
				tbl.AddRow(schedule.ProvenanceCache, "unreadable", err)
			}
			tbl.Print()
			return nil
		},
	}
}

func remoteStatus(cmd *cobra.Command, e *env) string {
	sqlDB, err := e.remote()
	if err != nil {
		return "error: " + err.Error()
	}
	if sqlDB == nil {
		return "disabled"
	}
	if err := db.Ping(cmd.Context(), sqlDB); err != nil {
		return "unreachable"
	}
	st, err := db.LatestLineUpdate(cmd.Context(), sqlDB)
	if err != nil {
		return "error: " + err.Error()
	}
	return fmt.Sprintf("%d lines, updated %s", st.Lines, savedAt(st.UpdatedAt))
}

func newCacheCmd(e *env) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persisted snapshot",
	}
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "view",
		Short: "Print the cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.cache(ctx)
			if err != nil {
				return err
			}
			snap, err := store.LoadSnapshot(ctx)
			if errors.Is(err, cache.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no snapshot in %s\n", store.Path())
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot saved %s, %d bytes\n", savedAt(snap.SavedAt), snap.Bytes)
			tbl := table.New("Line", "Stops", "Days").WithWriter(cmd.OutOrStdout())
			for _, l := range snap.Dataset.Lines() {
				tbl.AddRow(l.Name, len(l.Stops), strings.Join(l.Days(), ", "))
			}
			tbl.Print()
			return nil
		},
	})
	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete the cached snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := e.cache(cmd.Context())
			if err != nil {
				return err
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", store.Path())
			return nil
		},
	})
	return cacheCmd
}

func newValidateCmd(e *env) *cobra.Command {
	var from string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a dataset for integrity problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, p, err := e.dataset(cmd.Context(), from)
			if err != nil {
				return err
			}
			r := schedule.Check(ds)
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "source: %s\n", p)
			lines := table.New("Line", "Stops", "Days").WithWriter(out)
			for _, l := range r.Lines {
				lines.AddRow(l.Name, l.Stops, strings.Join(l.Days, ", "))
			}
			lines.Print()

			if len(r.Issues) > 0 {
				fmt.Fprintln(out)
				issues := table.New("Severity", "Line", "Day", "Stop", "Problem").WithWriter(out)
				for _, i := range r.Issues {
					issues.AddRow(i.Severity, i.Line, i.Day, i.Stop, i.Message)
				}
				issues.Print()
			}
			if len(r.MissingDays) > 0 {
				fmt.Fprintf(out, "\nno table for %s: every stop shows \"Sin servicio\" on those days unless SCHEDULE_WEEKDAY pins one\n",
					strings.Join(r.MissingDays, ", "))
			}
			fmt.Fprintf(out, "\n%d errors, %d warnings\n", r.Errors, r.Warnings)
			if !r.OK() {
				return errValidation
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "source", "chain", "dataset to check: chain, remote, bundled or cache")
	return cmd
}

func newNextCmd(e *env) *cobra.Command {
	var (
		at      string
		day     string
		from    string
		nextDay bool
	)
	cmd := &cobra.Command{
		Use:   "next <line> <stop>",
		Short: "Resolve the next departures for one stop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wc := clock.Capture(time.Now().In(e.cfg.Location))
			cur := wc.CurrentMinutes
			if at != "" {
				m, err := clock.ParseMinutes(at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				cur = m
			}
			key := wc.WeekdayKey
			switch {
			case day != "":
				key = clock.NormalizeWeekday(day)
				if !clock.IsWeekdayKey(key) {
					return fmt.Errorf("--day: unknown weekday %q", day)
				}
			case e.cfg.Weekday != "":
				key = e.cfg.Weekday
			}

			ds, p, err := e.dataset(cmd.Context(), from)
			if err != nil {
				return err
			}
			line, ok := findLine(ds, args[0])
			if !ok {
				return fmt.Errorf("unknown line %q (have %s)", args[0], strings.Join(ds.Names(), ", "))
			}
			aliases, err := stops.Default()
			if err != nil {
				return err
			}

			stopKey, times, found := aliases.Lookup(args[1], line.ForDay(key))
			var r departures.Result
			if nextDay || e.cfg.NextDayRollover {
				_, tomorrow, _ := aliases.Lookup(args[1], line.ForDay(clock.NextWeekdayKey(key)))
				r = departures.ResolveWithNextDay(times, tomorrow, cur)
			} else {
				r = departures.Resolve(times, cur)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s, %s %s (%s)\n", line.Name, key, clock.FormatMinutes(cur), p)
			if !found {
				fmt.Fprintf(out, "no departures for %q on %s\n", args[1], key)
			}
			tbl := table.New("Stop", "Next", "Now", "Upcoming", "Label").WithWriter(out)
			next, now := "-", ""
			if r.Next != nil {
				next = r.Next.Time
				if r.Next.IsNow {
					now = "AHORA"
				}
			}
			tbl.AddRow(stopKey, next, now, strings.Join(r.Upcoming, " "), r.Label())
			tbl.Print()
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "time of day to resolve at (HH:MM); defaults to now")
	cmd.Flags().StringVar(&day, "day", "", "weekday key (lunes, martes, ...); defaults to today")
	cmd.Flags().StringVar(&from, "source", "chain", "dataset to use: chain, remote, bundled or cache")
	cmd.Flags().BoolVar(&nextDay, "next-day", false, "roll over to the next weekday's table when the day is over")
	return cmd
}

func newDBCmd(e *env) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Remote store maintenance",
	}
	dbCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the lines collection if it does not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sqlDB, err := e.remote()
			if err != nil {
				return err
			}
			if sqlDB == nil {
				return errors.New("remote store not configured (set DATABASE_URL)")
			}
			if err := db.Ping(cmd.Context(), sqlDB); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if err := db.EnsureSchema(cmd.Context(), sqlDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "lines collection ready")
			return nil
		},
	})
	return dbCmd
}

// findLine matches a line by exact name or by slug.
func findLine(ds schedule.Dataset, name string) (schedule.Line, bool) {
	if l, ok := ds[name]; ok {
		return l, true
	}
	return ds.BySlug(schedule.Slug(name))
}

func savedAt(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Local().Format(time.RFC3339)
}
