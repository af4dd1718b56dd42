package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/relabs-tech/hip_exo/internal/metrics"
	"github.com/relabs-tech/hip_exo/internal/telemetry"
)

// status is the /api/status body.
type status struct {
	Session string                     `json:"session"`
	Clients int                        `json:"clients"`
	Streams map[string]json.RawMessage `json:"streams"`
}

// NewWebHandler serves the live monitor: /ws streams rows, /api/status
// returns the latest row per stream, /metrics exposes the loop metrics.
// Nothing here can change the controller.
func NewWebHandler(hub *telemetry.Hub, session string) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", metrics.Handler())

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		latest := hub.Latest()
		if len(latest) == 0 {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status{
			Session: session,
			Clients: hub.Clients(),
			Streams: latest,
		}); err != nil {
			log.Printf("web: json encode error: %v", err)
		}
	})
	return mux
}

// RunWeb serves handler on addr until ctx is done.
func RunWeb(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		log.Printf("web: listening on %s", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
