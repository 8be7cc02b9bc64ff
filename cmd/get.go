package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/surgemirror/internal/config"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/tui"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

type getFlags struct {
	urls         []string
	candidates   string
	clipboard    bool
	output       string
	sha256       string
	concurrency  int
	chunkSize    int64
	metricsAddr  string
	noTUI        bool
	jsonOut      bool
	noCache      bool
	allowPrivate bool
}

var getOpts getFlags

var getCmd = &cobra.Command{
	Use:   "get [owner/name[@version] file]",
	Short: "Download a release file from the fastest available mirror",
	Long: `get resolves a release file to candidate URLs across every configured source,
ranks them and downloads the file with adaptive parallel chunks.

With --url, --candidates or --clipboard and no positional arguments, only the
given URLs are used.`,
	Example: `  surgemirror get cli/cli@v2.40.0 gh_2.40.0_linux_amd64.tar.gz
  surgemirror get --url https://a.example/f.iso,https://b.example/f.iso -o ~/iso
  surgemirror get --candidates mirrors.yaml --no-tui --json`,
	Args: func(cmd *cobra.Command, args []string) error {
		switch len(args) {
		case 0:
			if len(getOpts.urls) == 0 && getOpts.candidates == "" && !getOpts.clipboard {
				return errors.New("give owner/name[@version] and a file, or --url/--candidates/--clipboard")
			}
			return nil
		case 2:
			return nil
		default:
			return fmt.Errorf("accepts 0 or 2 args, received %d", len(args))
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runGet(ctx, cmd, args, getOpts)
	},
}

func init() {
	f := getCmd.Flags()
	f.StringArrayVarP(&getOpts.urls, "url", "u", nil, "candidate URL; repeat or separate mirrors with commas")
	f.StringVar(&getOpts.candidates, "candidates", "", "YAML file listing candidate URLs (- for stdin)")
	f.BoolVar(&getOpts.clipboard, "clipboard", false, "read candidate URLs from the clipboard")
	f.StringVarP(&getOpts.output, "output", "o", "", "output file or directory (default: settings download dir)")
	f.StringVar(&getOpts.sha256, "sha256", "", "expected SHA-256 of the file")
	f.IntVarP(&getOpts.concurrency, "concurrency", "c", 0, "fixed number of parallel chunk requests (0 = adaptive)")
	f.Int64Var(&getOpts.chunkSize, "chunk-size", 0, "fixed chunk size in bytes (0 = adaptive)")
	f.StringVar(&getOpts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while downloading")
	f.BoolVar(&getOpts.noTUI, "no-tui", false, "print plain progress lines instead of the dashboard")
	f.BoolVar(&getOpts.jsonOut, "json", false, "with --no-tui, print events and the result as JSON lines")
	f.BoolVar(&getOpts.noCache, "no-cache", false, "bypass the download cache")
	f.BoolVar(&getOpts.allowPrivate, "allow-private", false, "allow candidates on loopback or private networks")
}

// getRequest is a parsed get invocation
type getRequest struct {
	identity types.FileIdentity // zero in URL-only mode
	static   []types.CandidateURL
	dest     string
	opts     types.Options
}

func (r getRequest) urlOnly() bool { return r.identity.Repository == "" }

func buildGetRequest(args []string, f getFlags, s *config.Settings) (getRequest, error) {
	var req getRequest

	req.static = candidatesFromURLs(f.urls)
	if f.candidates != "" {
		list, err := readCandidatesFile(f.candidates)
		if err != nil {
			return req, err
		}
		req.static = append(req.static, list...)
	}
	if f.clipboard {
		urls, err := readClipboardURLs()
		if err != nil {
			return req, err
		}
		req.static = append(req.static, candidatesFromURLs(urls)...)
	}

	if len(args) == 2 {
		id, err := parseIdentity(args[0], args[1])
		if err != nil {
			return req, err
		}
		req.identity = id
	} else if len(req.static) == 0 {
		return req, errors.New("no candidate URLs given")
	}

	req.dest = f.output
	if req.dest == "" {
		req.dest = s.General.DefaultDownloadDir
	}
	if req.dest == "" {
		req.dest = "."
	}
	if req.urlOnly() {
		// Only a label for the dashboard row; the manager names the file
		req.identity.File = utils.FilenameFromURL(req.static[0].URL)
	}

	if f.concurrency < 0 || f.chunkSize < 0 {
		return req, errors.New("--concurrency and --chunk-size must not be negative")
	}
	req.opts = types.Options{
		MaxConcurrency: f.concurrency,
		ChunkSize:      f.chunkSize,
	}
	if f.sha256 != "" {
		req.opts.VerifyIntegrity = true
		req.opts.ExpectedSHA256 = f.sha256
	}
	return req, nil
}

func runGet(ctx context.Context, cmd *cobra.Command, args []string, f getFlags) error {
	s := settings
	if s == nil {
		s = config.DefaultSettings()
	}

	req, err := buildGetRequest(args, f, s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(req.destDir(), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	a, err := newApp(ctx, s, appOptions{
		Static:       req.static,
		AllowPrivate: f.allowPrivate,
		NoCache:      f.noCache,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			utils.Debug("get: closing: %v", err)
		}
	}()

	if f.metricsAddr != "" {
		addr, err := serveMetrics(ctx, f.metricsAddr, newMetricsRouter(a))
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		if f.noTUI {
			fmt.Fprintf(cmd.ErrOrStderr(), "Serving metrics on http://%s/metrics\n", addr)
		}
	}

	run := func(ctx context.Context, id types.FileIdentity) (*types.DownloadResult, error) {
		if id.Repository == "" {
			return a.downloadURLs(ctx, req.static, req.dest, req.opts)
		}
		return a.fetch(ctx, id, req.dest, req.opts)
	}

	if f.noTUI {
		return runHeadless(ctx, cmd, a, req, run, f.jsonOut)
	}
	return runDashboard(ctx, a, s, req, run)
}

// destDir is the directory that must exist before the download starts
func (r getRequest) destDir() string {
	if info, err := os.Stat(r.dest); err == nil && info.IsDir() {
		return r.dest
	}
	if strings.HasSuffix(r.dest, string(os.PathSeparator)) {
		return r.dest
	}
	return filepath.Dir(r.dest)
}

func runHeadless(ctx context.Context, cmd *cobra.Command, a *app, req getRequest, run tui.FetchFunc, asJSON bool) error {
	p := newPrinter(cmd.OutOrStdout(), asJSON)
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.consume(a.events)
	}()

	res, err := run(ctx, req.identity)
	close(a.events)
	<-done

	if err != nil {
		return err
	}
	if asJSON {
		out, mErr := json.Marshal(res)
		if mErr != nil {
			return mErr
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}

func runDashboard(ctx context.Context, a *app, s *config.Settings, req getRequest, run tui.FetchFunc) error {
	model := tui.NewModel(tui.Options{
		Context:      ctx,
		Events:       a.events,
		Fetch:        run,
		Settings:     s,
		Initial:      []types.FileIdentity{req.identity},
		ExitWhenDone: true,
	})
	final, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("running dashboard: %w", err)
	}
	root, ok := final.(tui.RootModel)
	if !ok {
		return nil
	}
	for _, d := range root.Downloads() {
		switch {
		case d.Err() != nil:
			fmt.Fprintf(os.Stderr, "Failed %s: %v\n", d.Filename, d.Err())
		case d.Result != nil:
			fmt.Printf("Saved %s (%s)\n", d.Result.Path, utils.ConvertBytesToHumanReadable(d.Result.Size))
		}
	}
	if n := root.Failed(); n > 0 {
		return fmt.Errorf("%d download(s) failed", n)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}
