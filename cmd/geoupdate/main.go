package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/evyataryagoni/geolookup/internal/config"
	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/evyataryagoni/geolookup/internal/store"
	"github.com/evyataryagoni/geolookup/internal/updater"
	"github.com/spf13/cobra"
)

// Exit codes for cron and systemd timers
const (
	exitOK       = 0
	exitFailed   = 1 // every type failed, or bad configuration
	exitDegraded = 2 // some types failed
)

// geoupdate runs one refresh cycle and exits
// A running server picks the new files up through its data directory watcher
func main() {
	os.Exit(execute())
}

func execute() int {
	code := exitOK
	root := newRootCommand(&code)
	root.CompletionOptions.DisableDefaultCmd = true
	if err := root.ExecuteContext(context.Background()); err != nil {
		return exitFailed
	}
	return code
}

func newRootCommand(code *int) *cobra.Command {
	var (
		types   []string
		dataDir string
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "geoupdate",
		Short: "Download, verify and install the configured geolocation databases",
		Long: `geoupdate refreshes every enabled database type once.

Each type is downloaded, extracted, located and loaded independently; a type
that fails keeps its previous file. Configuration comes from the environment
(.env is honoured) and the flags below.

Exit status: 0 all types refreshed, 2 some types failed, 1 all failed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig := config.Load()
			if len(types) > 0 {
				parsed, err := parseTypes(types)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					*code = exitFailed
					return nil
				}
				appConfig.Databases = parsed
			}
			if dataDir != "" {
				appConfig.DataDir = dataDir
			}
			if timeout > 0 {
				appConfig.RefreshTimeout = timeout
			}
			*code = run(cmd.Context(), appConfig, asJSON)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "database types to refresh ("+typeNames()+"); default GEO_DATABASES")
	cmd.Flags().StringVarP(&dataDir, "data-dir", "d", "", "directory of the canonical <type>.mmdb files; default GEO_DATA_DIR")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-download timeout; default REFRESH_TIMEOUT")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the per-type report as JSON on stdout")
	return cmd
}

func parseTypes(values []string) ([]models.DatabaseType, error) {
	var types []models.DatabaseType
	for _, v := range values {
		t, err := models.ParseDatabaseType(v)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func run(ctx context.Context, appConfig *config.Config, asJSON bool) int {
	appLogger := logger.New(logger.Config{
		Level:  appConfig.LogLevel,
		Pretty: appConfig.LogPretty,
	})

	if appConfig.LicenseKey == "" && len(appConfig.SourceURLs) == 0 {
		appLogger.Error().Msg("MAXMIND_LICENSE_KEY is not set and no GEO_<TYPE>_URL override is configured")
		return exitFailed
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// payloads are loaded with the real reader before they become canonical
	dbStore := store.NewDatabaseStore(appConfig.Databases, nil, appLogger)
	defer dbStore.Close()

	sources := make([]updater.Source, 0, len(appConfig.Databases))
	for _, t := range appConfig.Databases {
		sources = append(sources, updater.Source{Type: t, URL: appConfig.SourceURL(t)})
	}
	pipeline := updater.NewPipeline(updater.Options{
		DataDir:         appConfig.DataDir,
		ScratchDir:      appConfig.ScratchDir,
		Sources:         sources,
		Timeout:         appConfig.RefreshTimeout,
		MaxWalkDepth:    appConfig.MaxWalkDepth,
		MaxPayloadBytes: appConfig.MaxPayload,
		Parallel:        appConfig.RefreshParallel,
	}, dbStore, nil, appLogger)

	report := pipeline.Run(ctx)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report.Results); err != nil {
			appLogger.Error().Err(err).Msg("Failed to write report")
		}
	} else {
		for _, res := range report.Results {
			status := "ok"
			if !res.Success {
				status = "FAILED: " + res.Reason
			}
			fmt.Printf("%-8s %s\n", res.Type, status)
		}
	}

	return exitCode(report)
}

func exitCode(report updater.Report) int {
	switch {
	case report.AllFailed():
		return exitFailed
	case report.Degraded():
		return exitDegraded
	default:
		return exitOK
	}
}

// typeNames is used in help output
func typeNames() string {
	names := make([]string, len(models.AllDatabaseTypes))
	for i, t := range models.AllDatabaseTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ",")
}
