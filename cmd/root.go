package cmd

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/surge-downloader/surgemirror/internal/config"
	"github.com/surge-downloader/surgemirror/internal/utils"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// settings is loaded once per invocation by PersistentPreRunE
var settings *config.Settings

// Persistent flags
var (
	envFile  string
	logLevel string
	noColor  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "surgemirror",
	Short: "Adaptive multi-source downloader for release files",
	Long: `surgemirror downloads a release file from whichever mirror is fastest right now.
Candidates come from GitHub, jsDelivr, mirror templates, S3 and your own lists;
they are ranked by past performance and fetched in adaptively sized chunks with
resume and failover.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := initializeGlobalState()
		if err != nil {
			return err
		}
		settings = s
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if err := utils.CloseLogging(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing log: %v\n", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file with SURGEMIRROR_* overrides")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colors")
	rootCmd.SetVersionTemplate("surgemirror version {{.Version}} (built " + BuildTime + ")\n")

	rootCmd.AddCommand(getCmd, sourcesCmd, configCmd)
}

// loadSettings reads settings.json, then applies .env and environment overrides
func loadSettings() (*config.Settings, error) {
	s, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", config.GetSettingsPath(), err)
	}
	if envFile != "" {
		config.LoadDotEnv(envFile)
	}
	if err := config.ApplyEnv(s); err != nil {
		return nil, err
	}
	if logLevel != "" {
		s.General.LogLevel = logLevel
	}
	return s, nil
}

// initializeGlobalState sets up directories, logging and colors, and returns the effective settings
func initializeGlobalState() (*config.Settings, error) {
	s, err := loadSettings()
	if err != nil {
		return nil, err
	}

	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	if err := config.EnsureDirs(); err != nil {
		// Logging is optional; keep going without a log file
		fmt.Fprintf(os.Stderr, "Warning: cannot create %s: %v\n", config.GetSurgeDir(), err)
		return s, nil
	}
	if err := utils.ConfigureLogging(utils.LogOptions{
		Dir:        config.GetLogsDir(),
		Level:      s.General.LogLevel,
		MaxBackups: s.General.LogRetentionCount,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	utils.Debug("surgemirror %s starting, settings from %s", Version, config.GetSettingsPath())
	return s, nil
}
