package api

import (
	"net/http"

	"github.com/sungwon/emailer/internal/logger"
	"github.com/sungwon/emailer/internal/metrics"
	"github.com/sungwon/emailer/internal/storage"
)

// StatsHandler handles GET /api/v1/stats.
// Returns the number of stored emails per status and refreshes the queue gauge.
func StatsHandler(store EmailReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := store.CountEmailsByStatus(r.Context())
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("failed to count emails")
			respondError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		byStatus := make(map[string]int64, len(storage.Statuses))
		var total int64
		for _, s := range storage.Statuses {
			n := counts[s]
			byStatus[string(s)] = n
			total += n
			metrics.QueueEmails.WithLabelValues(string(s)).Set(float64(n))
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"total":     total,
			"by_status": byStatus,
		})
	}
}
