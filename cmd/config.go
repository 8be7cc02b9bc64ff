package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/surge-downloader/surgemirror/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize settings",
}

var configShowJSON bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings (file, .env and environment combined)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s := *currentSettings()
		if s.Sources.GitHubToken != "" {
			s.Sources.GitHubToken = "********"
		}
		if configShowJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}
		return printSettings(cmd.OutOrStdout(), &s)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the settings file location",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.GetSettingsPath())
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the defaults",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetSettingsPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.SaveSettings(config.DefaultSettings()); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowJSON, "json", false, "print as JSON")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configPathCmd, configInitCmd)
}

// printSettings lists every documented setting by category
func printSettings(out io.Writer, s *config.Settings) error {
	values, err := flattenSettings(s)
	if err != nil {
		return err
	}
	meta := config.GetSettingsMetadata()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for i, category := range config.CategoryOrder() {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%s]\n", category)
		for _, m := range meta[category] {
			fmt.Fprintf(w, "  %s\t%s\n", m.Key, formatValue(values[m.Key], m.Type))
		}
	}
	return w.Flush()
}

// flattenSettings maps every json key of every category to its value
func flattenSettings(s *config.Settings) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var sections map[string]map[string]any
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for _, section := range sections {
		for k, v := range section {
			out[k] = v
		}
	}
	return out, nil
}

func formatValue(v any, typ string) string {
	if f, ok := v.(float64); ok && typ == "duration" {
		return time.Duration(int64(f)).String()
	}
	switch t := v.(type) {
	case nil:
		return "(empty)"
	case string:
		if t == "" {
			return "(empty)"
		}
		return t
	case []any:
		if len(t) == 0 {
			return "(empty)"
		}
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = fmt.Sprint(p)
		}
		return strings.Join(parts, ", ")
	case map[string]any:
		if len(t) == 0 {
			return "(empty)"
		}
		data, _ := json.Marshal(t)
		return string(data)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
