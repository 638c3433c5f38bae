package updater

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/evyataryagoni/geolookup/internal/logger"
	"github.com/evyataryagoni/geolookup/internal/models"
)

// LoadExisting publishes the canonical files already present in dataDir
// so the server can answer before its first refresh
// It returns the types that were published
func LoadExisting(store Publisher, dataDir string, types []models.DatabaseType, log *logger.Logger) []models.DatabaseType {
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("Bootstrap")

	var loaded []models.DatabaseType
	for _, t := range types {
		path := filepath.Join(dataDir, t.FileName())
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.Info().Str("database", string(t)).Str("path", path).Msg("No local database yet, waiting for refresh")
			} else {
				log.Warn().Err(err).Str("database", string(t)).Msg("Cannot stat local database")
			}
			continue
		}
		if err := store.Publish(t, path); err != nil {
			log.Error().Err(err).Str("database", string(t)).Msg("Local database unusable, waiting for refresh")
			continue
		}
		loaded = append(loaded, t)
	}
	return loaded
}
