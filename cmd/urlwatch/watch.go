package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"urlwatch/internal/models"
	"urlwatch/internal/storage"
	"urlwatch/internal/style"
	"urlwatch/internal/watchlist"
)

func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add URL INTERVAL [REGEX]",
		Short: "Add a URL to the watch list",
		Long: `Add a URL to the watch list.

INTERVAL is the check cadence in seconds. When REGEX is given every check also
reports whether the response body matches it. '.' matches newlines and '^'/'$'
match at line boundaries.

Example:
  urlwatch add https://example.com/health 30 '"status":\s*"ok"'`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("interval must be a whole number of seconds, got %q", args[1])
			}
			in := watchlist.NewItem{URL: args[0], IntervalSeconds: interval}
			if len(args) == 3 {
				in.ContentPattern = args[2]
			}

			watches, closeStore, err := a.watchlist(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			item, err := watches.Add(cmd.Context(), in)
			if err != nil {
				return describe(cmd.ErrOrStderr(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Added watch item %d: %s every %ds\n",
				style.DotHealthy, item.ID, item.URL, item.IntervalSeconds)
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		enable, disable bool
		pattern         string
		removePattern   bool
		interval        int
	)

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change a watch item",
		Long: `Change a watch item. Only the given flags are applied.

Example:
  urlwatch update 3 --disable
  urlwatch update 3 -i 60 -r 'Welcome'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var upd watchlist.Update
			switch {
			case enable:
				upd.Enabled = &enable
			case disable:
				enabled := false
				upd.Enabled = &enabled
			}
			if cmd.Flags().Changed("regex") {
				upd.ContentPattern = &pattern
			}
			upd.RemovePattern = removePattern
			if cmd.Flags().Changed("interval") {
				upd.IntervalSeconds = &interval
			}

			watches, closeStore, err := a.watchlist(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			item, err := watches.Update(cmd.Context(), id, upd)
			if errors.Is(err, storage.ErrNothingToUpdate) {
				fmt.Fprintln(cmd.OutOrStdout(), style.DimText.Render("Nothing to update"))
				return nil
			}
			if err != nil {
				return describe(cmd.ErrOrStderr(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Updated watch item %d\n", style.DotHealthy, item.ID)
			printItem(cmd.OutOrStdout(), item)
			return nil
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&enable, "enable", "e", false, "enable checks")
	f.BoolVarP(&disable, "disable", "d", false, "disable checks")
	f.StringVarP(&pattern, "regex", "r", "", "set the content pattern")
	f.BoolVarP(&removePattern, "remove-regex", "R", false, "remove the content pattern")
	f.IntVarP(&interval, "interval", "i", 0, "set the check interval in seconds")
	cmd.MarkFlagsMutuallyExclusive("enable", "disable")
	cmd.MarkFlagsMutuallyExclusive("regex", "remove-regex")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove ID",
		Short:   "Remove a watch item and its check history",
		Aliases: []string{"rm"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			watches, closeStore, err := a.watchlist(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			if err := watches.Remove(cmd.Context(), id); err != nil {
				return describe(cmd.ErrOrStderr(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed watch item %d\n", id)
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List watch items",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watches, closeStore, err := a.watchlist(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			items, err := watches.List(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, style.DimText.Render("No watch items. Add one with: urlwatch add URL INTERVAL"))
				return nil
			}

			fmt.Fprintln(out, style.TableHeader.Render(fmt.Sprintf(
				"  %-2s %-5s %-9s %-20s %-20s %s", "", "ID", "INTERVAL", "PATTERN", "LAST CHECK", "URL")))
			for _, item := range items {
				pattern := style.DimText.Render(style.PadRight("-", 20))
				if item.ContentPattern != nil {
					pattern = style.PadRight(style.Truncate(*item.ContentPattern, 20), 20)
				}
				fmt.Fprintf(out, "  %s  %-5d %-9s %s %-20s %s\n",
					style.EnabledDot(item.Enabled),
					item.ID,
					strconv.Itoa(item.IntervalSeconds)+"s",
					pattern,
					formatTime(item.LastStart),
					item.URL)
			}
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var checks int

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a watch item and its most recent checks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			watches, closeStore, err := a.watchlist(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			item, err := watches.Get(cmd.Context(), id)
			if err != nil {
				return describe(cmd.ErrOrStderr(), err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, style.Banner.Render(item.URL))
			printItem(out, item)

			if checks <= 0 {
				return nil
			}
			entries, err := watches.Checks(cmd.Context(), id, checks, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(out)
			if len(entries) == 0 {
				fmt.Fprintln(out, style.DimText.Render("No checks recorded yet."))
				return nil
			}
			printChecks(out, entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&checks, "checks", "n", 10, "number of recent checks to show (0 hides them)")
	return cmd
}

func printItem(out io.Writer, item *models.WatchItem) {
	row := func(k, v string) {
		fmt.Fprintf(out, "  %s%s\n", style.Key.Render(k), style.Val.Render(v))
	}

	state := style.Healthy.Render("enabled")
	if !item.Enabled {
		state = style.DimText.Render("disabled")
	}
	pattern := "-"
	if item.ContentPattern != nil {
		pattern = *item.ContentPattern
	}

	row("ID", strconv.FormatInt(item.ID, 10))
	row("URL", item.URL)
	fmt.Fprintf(out, "  %s%s\n", style.Key.Render("State"), state)
	row("Interval", strconv.Itoa(item.IntervalSeconds)+"s")
	row("Pattern", pattern)
	row("Last start", formatTime(item.LastStart))
	row("Last end", formatTime(item.LastEnd))
	row("Created", item.CreatedAt.Local().Format(time.DateTime))
}

func printChecks(out io.Writer, entries []models.CheckLogEntry) {
	fmt.Fprintln(out, style.TableHeader.Render(fmt.Sprintf(
		"  %-2s %-19s %-6s %-8s %-8s %-8s %-5s %s", "", "START", "STATUS", "CONNECT", "TTFB", "RESPONSE", "MATCH", "ERROR")))
	for _, e := range entries {
		status := "-"
		if e.StatusCode != nil {
			status = strconv.Itoa(*e.StatusCode)
		}
		match := "-"
		if e.ContentMatch != nil {
			match = strconv.FormatBool(*e.ContentMatch)
		}
		errMsg := ""
		if e.ErrorMessage != nil {
			errMsg = style.Unhealthy.Render(style.Truncate(*e.ErrorMessage, 60))
		}
		code := 0
		if e.StatusCode != nil {
			code = *e.StatusCode
		}

		fmt.Fprintf(out, "  %s  %-19s %-6s %-8s %-8s %-8s %-5s %s\n",
			style.CheckDot(e.Failed(), code, e.ContentMatch),
			e.Start.Local().Format(time.DateTime),
			status,
			formatMS(e.ConnectionMS),
			formatMS(e.TTFBMS),
			formatMS(e.ResponseMS),
			match,
			errMsg)
	}
}

func formatMS(ms int64) string {
	if ms == models.NotMeasured {
		return "-"
	}
	return strconv.FormatInt(ms, 10) + "ms"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid watch item id %q", arg)
	}
	return id, nil
}

// describe turns service errors into CLI errors. Validation problems are
// printed one per line.
func describe(stderr io.Writer, err error) error {
	var verr *watchlist.ValidationError
	if errors.As(err, &verr) {
		fields := make([]string, 0, len(verr.Problems))
		for field := range verr.Problems {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		for _, field := range fields {
			fmt.Fprintf(stderr, "  %s %s: %s\n", style.DotUnhealthy, field, verr.Problems[field])
		}
		return errors.New("invalid watch item")
	}
	if errors.Is(err, storage.ErrNotFound) {
		return errors.New("watch item not found")
	}
	return err
}
