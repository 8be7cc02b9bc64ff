package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/surgemirror/internal/config"
	"github.com/surge-downloader/surgemirror/internal/engine"
	"github.com/surge-downloader/surgemirror/internal/engine/router"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Inspect candidate sources and their scores",
}

var (
	sourcesURLs         []string
	sourcesAllowPrivate bool
	sourcesProbe        bool
)

var sourcesListCmd = &cobra.Command{
	Use:   "list owner/name[@version] file",
	Short: "Resolve a file to candidate URLs and show how they rank",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentity(args[0], args[1])
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), currentSettings(), appOptions{
			Static:       candidatesFromURLs(sourcesURLs),
			AllowPrivate: sourcesAllowPrivate,
			NoCache:      true,
		})
		if err != nil {
			return err
		}
		defer a.close()
		return listSources(cmd.Context(), cmd.OutOrStdout(), a, id, sourcesProbe)
	},
}

var sourcesHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that every configured provider is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), currentSettings(), appOptions{NoCache: true})
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()
		results := a.registry.Health(ctx)

		names := make([]string, 0, len(results))
		for name := range results {
			names = append(names, name)
		}
		sort.Strings(names)

		failed := 0
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tSTATUS")
		for _, name := range names {
			status := "ok"
			if err := results[name]; err != nil {
				status = err.Error()
				failed++
			}
			fmt.Fprintf(w, "%s\t%s\n", name, status)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d providers unhealthy", failed, len(names))
		}
		return nil
	},
}

var sourcesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the persisted per-source performance history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := currentSettings()
		if s.General.MetricsDB == "" {
			return fmt.Errorf("metrics persistence is disabled; set general.metrics_db in %s", config.GetSettingsPath())
		}
		a, err := newApp(cmd.Context(), s, appOptions{NoCache: true})
		if err != nil {
			return err
		}
		defer a.close()
		return printStats(cmd.OutOrStdout(), a.service.Manager.Router.Snapshot(), time.Now())
	},
}

func init() {
	sourcesListCmd.Flags().StringArrayVarP(&sourcesURLs, "url", "u", nil, "extra candidate URL to rank alongside the providers")
	sourcesListCmd.Flags().BoolVar(&sourcesAllowPrivate, "allow-private", false, "allow candidates on loopback or private networks")
	sourcesListCmd.Flags().BoolVar(&sourcesProbe, "probe", false, "probe each candidate for size and range support")
	sourcesCmd.AddCommand(sourcesListCmd, sourcesHealthCmd, sourcesStatsCmd)
}

// currentSettings falls back to defaults when PersistentPreRunE did not run (tests)
func currentSettings() *config.Settings {
	if settings != nil {
		return settings
	}
	return config.DefaultSettings()
}

func listSources(ctx context.Context, out io.Writer, a *app, id types.FileIdentity, probe bool) error {
	candidates, err := a.registry.Candidates(ctx, id)
	if err != nil {
		return err
	}
	kept, rejected := a.validator.FilterCandidates(candidates)

	var unreachable map[string]error
	if probe {
		var probed map[string]*engine.ProbeResult
		probed, unreachable = engine.ProbeCandidates(ctx, a.service.Manager.Transport, kept)
		for i := range kept {
			if pr, ok := probed[kept[i].URL]; ok {
				if pr.FileSize > 0 {
					kept[i].KnownSize = pr.FileSize
				}
				kept[i].SupportsRanges = pr.SupportsRange
			}
		}
	}
	routes := a.service.Manager.Router.Route(kept)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tTIER\tSCORE\tSOURCE\tSIZE\tURL")
	for i, c := range routes.All() {
		tier := "primary"
		if i >= len(routes.Primary) {
			tier = "fallback"
		}
		size := "-"
		if err, down := unreachable[c.URL]; down {
			size = "unreachable"
			utils.Debug("probe %s: %v", c.URL, err)
		} else if c.KnownSize > 0 {
			size = utils.ConvertBytesToHumanReadable(c.KnownSize)
		}
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%s\t%s\t%s\n", i+1, tier, a.service.Manager.Router.Score(c), c.SourceName, size, c.URL)
	}
	for _, c := range rejected {
		fmt.Fprintf(w, "-\trejected\t-\t%s\t-\t%s\n", c.SourceName, c.URL)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%d candidates, top %d are tried first\n", len(kept), router.PrimaryCount)
	return nil
}

func printStats(out io.Writer, snap types.MetricsSnapshot, now time.Time) error {
	if len(snap.Sources) == 0 {
		fmt.Fprintln(out, "No downloads recorded yet.")
		return nil
	}
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].Name < snap.Sources[j].Name })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tREQUESTS\tSUCCESS\tAVG SPEED\tAVG LATENCY\tLAST SUCCESS\tLAST FAILURE")
	for _, m := range snap.Sources {
		rate := "-"
		if m.TotalRequests > 0 {
			rate = fmt.Sprintf("%.0f%%", float64(m.SuccessfulRequests)*100/float64(m.TotalRequests))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.Name, humanize.Comma(m.TotalRequests), rate, utils.FormatSpeed(m.AvgSpeed),
			m.AvgResponseTime.Round(time.Millisecond), relTime(m.LastSuccess, now), relTime(m.LastFailure, now))
	}
	return w.Flush()
}

func relTime(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
