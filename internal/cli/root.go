package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openmediakit/msclient"
	"github.com/openmediakit/msclient/internal/output"
	"github.com/openmediakit/msclient/internal/tracing"
	"github.com/openmediakit/msclient/internal/version"
)

const (
	envConf         = "MSC_CONF"
	envAPIKey       = "MSC_API_KEY"
	envOTLPEndpoint = "MSC_OTLP_ENDPOINT"

	defaultConfFile = "ms-config.json"
)

var (
	confFlag   string
	apiKeyFlag string
	verbose    bool
	jsonOutput bool
	quietMode  bool
	traceFlag  bool

	conf        *msclient.Config
	client      *msclient.Client
	printer     *output.Printer
	stopTracing func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "msc",
	Short: "MediaServer client - manage medias, uploads and backups from the terminal",
	Long: `msc drives a MediaServer instance through its HTTP API.

Get started:
  msc config init                         # Write a configuration file template
  msc ping                                # Check credentials and server version
  msc upload talk.mp4 --title "My talk"   # Add a media`,
	Version: version.Full(),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		printer = output.New(
			output.WithJSON(jsonOutput),
			output.WithQuiet(quietMode),
		)
		// Commands below work without a loaded configuration
		switch cmd.Name() {
		case "help", "version", "init", "path":
			return nil
		}
		return setup(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if stopTracing != nil {
			return stopTracing(cmd.Context())
		}
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&confFlag, "conf", "", "Configuration file (default: $MSC_CONF or the user config dir)")
	rootCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", "", "API key override (default: $MSC_API_KEY)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output as JSON (for scripting)")
	rootCmd.PersistentFlags().BoolVar(&quietMode, "quiet", false, "Suppress non-error output")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "Export OTLP traces (endpoint from $MSC_OTLP_ENDPOINT)")

	rootCmd.SetVersionTemplate("msc version {{.Version}}\n")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(massUploadCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(importUsersCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(versionCmd)
}

// setup loads the configuration and builds the API client every command uses.
func setup(ctx context.Context) error {
	// A .env in the working directory may hold MSC_* overrides
	_ = godotenv.Load()

	sources := []msclient.ConfigSource{msclient.FromFile(resolveConfPath())}
	if key := strings.TrimSpace(firstNonEmpty(apiKeyFlag, os.Getenv(envAPIKey))); key != "" {
		sources = append(sources, msclient.FromMap(map[string]any{"API_KEY": key}))
	}

	var err error
	conf, err = msclient.LoadConfig(sources...)
	if err != nil {
		return err
	}

	opts := []msclient.Option{msclient.WithLogger(newLogger())}
	if traceFlag || os.Getenv(envOTLPEndpoint) != "" {
		shutdown, err := tracing.Init(ctx, &tracing.Config{
			ServiceName:    "msc",
			ServiceVersion: version.Short(),
			Environment:    "cli",
			OTLPEndpoint:   firstNonEmpty(os.Getenv(envOTLPEndpoint), "localhost:4317"),
			Enabled:        true,
			SampleRate:     1,
		})
		if err != nil {
			return err
		}
		stopTracing = shutdown
		opts = append(opts, msclient.WithTransportWrapper(tracing.Transport))
	}

	client, err = msclient.New(conf, opts...)
	return err
}

// resolveConfPath picks the configuration file: the --conf flag, the MSC_CONF
// environment variable, then the user-scoped default.
func resolveConfPath() string {
	if confFlag != "" {
		return confFlag
	}
	if env := os.Getenv(envConf); env != "" {
		return env
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return defaultConfFile
	}
	return filepath.Join(dir, "msclient", defaultConfFile)
}

// newLogger builds the console logger handed to the library. The verbosity
// flags win over the configured LOG_LEVEL.
func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(conf.LogLevel)
	if err != nil || conf.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	} else if quietMode {
		level = zerolog.ErrorLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
