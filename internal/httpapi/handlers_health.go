package httpapi

import "net/http"

const serviceVersion = "1.0.0"

// handleHealth implements GET /health: no auth, reports Redis reachability
// alongside a static version string.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	redisStatus := "unknown"
	if a.RedisHealthy != nil {
		if a.RedisHealthy() {
			redisStatus = "ok"
		} else {
			redisStatus = "down"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": serviceVersion,
		"redis":   redisStatus,
	})
}
