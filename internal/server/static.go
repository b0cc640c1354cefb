package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/pion/webrtc/v4"
)

type iceConfigResponse struct {
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// configHandler hands clients the ICE servers to build their peer connections with.
func (a *App) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	servers := a.iceServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	writeJSON(w, http.StatusOK, iceConfigResponse{ICEServers: servers})
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// staticHandler serves the client application from the static directory.
func (a *App) staticHandler() http.Handler {
	dir := a.config.Server.StaticDir
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		a.logger.Warn("Static directory unavailable, only the API is served", slog.String("dir", dir))
		return http.NotFoundHandler()
	}
	return http.FileServer(http.Dir(dir))
}
