package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthcheckRouter creates the health probe router.
func HealthcheckRouter(ping func() error) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		if err := ping(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}
