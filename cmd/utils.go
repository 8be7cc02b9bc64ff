package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"gopkg.in/yaml.v3"

	"github.com/surge-downloader/surgemirror/internal/engine/events"
	"github.com/surge-downloader/surgemirror/internal/engine/types"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// ParseURLArg parses a command line argument that might contain comma-separated mirrors
// Returns the primary URL and a list of all mirrors (including the primary)
func ParseURLArg(arg string) (string, []string) {
	parts := strings.Split(arg, ",")
	var urls []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	if len(urls) == 0 {
		return "", nil
	}
	return urls[0], urls
}

// parseIdentity reads "owner/name[@version]" plus a file name
func parseIdentity(ref, file string) (types.FileIdentity, error) {
	repo, version, _ := strings.Cut(strings.TrimSpace(ref), "@")
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return types.FileIdentity{}, fmt.Errorf("invalid repository %q: want owner/name[@version]", ref)
	}
	file = strings.TrimSpace(file)
	if file == "" {
		return types.FileIdentity{}, errors.New("file name is required")
	}
	return types.FileIdentity{Repository: repo, Version: version, File: file}, nil
}

// candidateEntry accepts either a bare URL string or a full mapping
type candidateEntry struct {
	types.CandidateURL
}

func (c *candidateEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.URL = strings.TrimSpace(node.Value)
		return nil
	}
	return node.Decode(&c.CandidateURL)
}

type candidateFile struct {
	Candidates []candidateEntry `yaml:"candidates"`
}

// parseCandidates decodes a candidate list. The document is either a sequence
// or a mapping with a "candidates" key; entries are URLs or mappings.
func parseCandidates(data []byte) ([]types.CandidateURL, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing candidates: %w", err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	var entries []candidateEntry
	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		if err := doc.Decode(&entries); err != nil {
			return nil, fmt.Errorf("parsing candidates: %w", err)
		}
	case yaml.MappingNode:
		var f candidateFile
		if err := doc.Decode(&f); err != nil {
			return nil, fmt.Errorf("parsing candidates: %w", err)
		}
		entries = f.Candidates
	default:
		return nil, errors.New("parsing candidates: expected a list or a candidates: key")
	}

	out := make([]types.CandidateURL, 0, len(entries))
	for i, e := range entries {
		if e.URL == "" {
			return nil, fmt.Errorf("candidate %d: url is required", i+1)
		}
		out = append(out, e.CandidateURL)
	}
	return out, nil
}

// readCandidatesFile loads a YAML candidate list; "-" reads stdin
func readCandidatesFile(path string) ([]types.CandidateURL, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(bufio.NewReader(os.Stdin))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read candidates: %w", err)
	}
	return parseCandidates(data)
}

// candidatesFromURLs turns --url values (each possibly comma separated) into candidates
func candidatesFromURLs(args []string) []types.CandidateURL {
	var out []types.CandidateURL
	seen := make(map[string]bool)
	for _, arg := range args {
		_, urls := ParseURLArg(arg)
		for _, u := range urls {
			if seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, types.CandidateURL{URL: u, SourceName: utils.SourceNameFromURL(u)})
		}
	}
	return out
}

// readClipboardURLs returns the http(s) URLs found in the clipboard, one per line or comma
func readClipboardURLs() ([]string, error) {
	text, err := clipboard.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading clipboard: %w", err)
	}
	var urls []string
	for _, line := range strings.Fields(strings.ReplaceAll(text, ",", " ")) {
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			urls = append(urls, line)
		}
	}
	if len(urls) == 0 {
		return nil, errors.New("clipboard holds no http(s) URL")
	}
	return urls, nil
}

// printer renders engine events as plain lines for non-interactive runs
type printer struct {
	out      io.Writer
	json     bool
	interval time.Duration
	last     map[string]time.Time
}

func newPrinter(out io.Writer, asJSON bool) *printer {
	return &printer{out: out, json: asJSON, interval: time.Second, last: make(map[string]time.Time)}
}

// consume prints until ch is closed
func (p *printer) consume(ch <-chan any) {
	for msg := range ch {
		p.print(msg)
	}
}

func (p *printer) print(msg any) {
	if p.json {
		p.printJSON(msg)
		return
	}
	switch m := msg.(type) {
	case events.DownloadStartedMsg:
		size := "unknown size"
		if m.Total > 0 {
			size = utils.ConvertBytesToHumanReadable(m.Total)
		}
		verb := "Downloading"
		if m.Resumed {
			verb = "Resuming"
		}
		fmt.Fprintf(p.out, "%s %s (%s) from %d candidates\n", verb, m.Filename, size, m.Candidates)
	case events.ProgressMsg:
		if time.Since(p.last[m.DownloadID]) < p.interval {
			return
		}
		p.last[m.DownloadID] = time.Now()
		pct := ""
		if m.Total > 0 {
			pct = fmt.Sprintf(" %5.1f%%", float64(m.Downloaded)*100/float64(m.Total))
		}
		fmt.Fprintf(p.out, "  %s%s %s via %s [%d x %s]\n",
			utils.ConvertBytesToHumanReadable(m.Downloaded), pct, utils.FormatSpeed(m.Speed),
			utils.SourceNameFromURL(m.URL), m.Concurrency, utils.ConvertBytesToHumanReadable(m.ChunkSize))
	case events.MirrorFailedMsg:
		action := "failing over"
		if m.WillRetry {
			action = "retrying"
		}
		fmt.Fprintf(p.out, "  %s: %s (attempt %d), %s\n", m.SourceName, m.Kind, m.Attempt, action)
	case events.ParamsChangedMsg:
		utils.Debug("params %s: concurrency %d->%d chunk %d->%d", m.Reason,
			m.Old.Concurrency, m.New.Concurrency, m.Old.ChunkSize, m.New.ChunkSize)
	case events.DownloadCompleteMsg:
		delete(p.last, m.DownloadID)
		name, from := m.Filename, ""
		if r := m.Result; r != nil {
			name = r.Path
			if r.FromCache {
				from = " from cache"
			} else if r.SourceName != "" {
				from = " from " + r.SourceName
			}
		}
		fmt.Fprintf(p.out, "Saved %s (%s in %s)%s\n", name,
			utils.ConvertBytesToHumanReadable(m.Total), utils.FormatDuration(m.Elapsed), from)
	case events.DownloadErrorMsg:
		delete(p.last, m.DownloadID)
		fmt.Fprintf(p.out, "Failed %s: %v\n", m.Filename, m.Err)
	}
}

func (p *printer) printJSON(msg any) {
	var kind string
	switch msg.(type) {
	case events.DownloadStartedMsg:
		kind = "started"
	case events.ProgressMsg:
		kind = "progress"
	case events.MirrorFailedMsg:
		kind = "mirror_failed"
	case events.ParamsChangedMsg:
		kind = "params_changed"
	case events.DownloadCompleteMsg:
		kind = "complete"
	case events.DownloadErrorMsg:
		kind = "error"
	default:
		return
	}
	line, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{kind, msg})
	if err != nil {
		utils.Debug("printer: encoding %s: %v", kind, err)
		return
	}
	fmt.Fprintln(p.out, string(line))
}
