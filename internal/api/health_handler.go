package api

import (
	"context"
	"net/http"

	"github.com/sungwon/emailer/internal/storage"
)

// Pinger checks a dependency the service cannot work without.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueCounter reports how many records sit in each status.
type QueueCounter interface {
	CountEmailsByStatus(ctx context.Context) (map[storage.Status]int64, error)
}

type readiness struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Queued   *int64 `json:"queued,omitempty"`
}

// HealthzHandler handles GET /healthz. The process is alive if it answers.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler handles GET /readyz: 200 when the database answers a ping,
// 503 with Retry-After otherwise. With a non-nil queue the body also
// carries the number of in-queue records; a failed count does not make the
// service unready.
func ReadyzHandler(db Pinger, queue QueueCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.Header().Set("Retry-After", "30")
			respondError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}

		body := readiness{Status: "ok", Database: "ok"}
		if queue != nil {
			if counts, err := queue.CountEmailsByStatus(r.Context()); err == nil {
				n := counts[storage.StatusInQueue]
				body.Queued = &n
			}
		}
		respondJSON(w, http.StatusOK, body)
	}
}
