package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/evyataryagoni/geolookup/internal/config"
	"github.com/evyataryagoni/geolookup/internal/models"
	"github.com/evyataryagoni/geolookup/internal/updater"
)

func TestExitCode(t *testing.T) {
	ok := updater.Result{Type: models.DatabaseCountry, Success: true}
	failed := updater.Result{Type: models.DatabaseCity, Reason: "transfer failed"}

	tests := []struct {
		name    string
		results []updater.Result
		want    int
	}{
		{"all succeeded", []updater.Result{ok, ok}, exitOK},
		{"some failed", []updater.Result{ok, failed}, exitDegraded},
		{"all failed", []updater.Result{failed, failed}, exitFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(updater.Report{Results: tt.results}); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseTypes(t *testing.T) {
	got, err := parseTypes([]string{"city", "ASN"})
	if err != nil {
		t.Fatalf("parseTypes() error = %v", err)
	}
	if len(got) != 2 || got[0] != models.DatabaseCity || got[1] != models.DatabaseNetwork {
		t.Errorf("parseTypes() = %v", got)
	}

	if _, err := parseTypes([]string{"continent"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestRun_MissingLicenseKey(t *testing.T) {
	cfg := &config.Config{
		LogLevel:   "error",
		DataDir:    t.TempDir(),
		Databases:  []models.DatabaseType{models.DatabaseCountry},
		SourceURLs: map[models.DatabaseType]string{},
	}

	if got := run(context.Background(), cfg, false); got != exitFailed {
		t.Errorf("run() = %d, want %d", got, exitFailed)
	}
}

func TestRun_AllSourcesFail(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	dataDir := t.TempDir()
	cfg := &config.Config{
		LogLevel:  "error",
		DataDir:   dataDir,
		Databases: []models.DatabaseType{models.DatabaseCountry, models.DatabaseCity},
		SourceURLs: map[models.DatabaseType]string{
			models.DatabaseCountry: srv.URL + "/country.tar.gz",
			models.DatabaseCity:    srv.URL + "/city.tar.gz",
		},
		MaxWalkDepth: 4,
	}

	if got := run(context.Background(), cfg, true); got != exitFailed {
		t.Errorf("run() = %d, want %d", got, exitFailed)
	}
	matches, _ := filepath.Glob(filepath.Join(dataDir, "*.mmdb"))
	if len(matches) != 0 {
		t.Errorf("failed refresh left files behind: %v", matches)
	}
}

func TestRootCommand_RejectsUnknownType(t *testing.T) {
	t.Setenv("MAXMIND_LICENSE_KEY", "test")

	code := exitOK
	cmd := newRootCommand(&code)
	cmd.SetArgs([]string{"--types", "continent", "--data-dir", t.TempDir()})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if code != exitFailed {
		t.Errorf("exit code = %d, want %d", code, exitFailed)
	}
}
