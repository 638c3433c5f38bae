package api

import (
	"github.com/evyataryagoni/geolookup/internal/handler"
	"github.com/go-chi/chi/v5"
)

// SetupRoutes configures the /api/* endpoints
//
// Parameters:
//   - geoHandler: the lookup handler
//
// Returns:
//   - chi.Router: configured api router
func SetupRoutes(geoHandler *handler.GeoHandler) chi.Router {
	r := chi.NewRouter()

	// GET /api/lookup (caller's own address) and GET /api/lookup/{ip}
	r.Get("/lookup", geoHandler.Lookup)
	r.Get("/lookup/{ip}", geoHandler.Lookup)

	// GET /api/status
	r.Get("/status", geoHandler.Status)

	return r
}
