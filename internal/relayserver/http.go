package relayserver

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alxayo/filerelay/internal/transfer"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/transfer/{id}", s.handleTransferMeta)
	mux.HandleFunc("GET /ws/send", s.handleSend)
	mux.HandleFunc("GET /ws/recv/{id}", s.handleRecv)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// transferMetaResponse is the §6 JSON body for GET /api/transfer/{id}.
type transferMetaResponse struct {
	Filename string `json:"filename"`
	Size     uint64 `json:"size"`
}

// handleTransferMeta lets the receiver page render filename/size before
// opening a WS. Only visible while the transfer is actually claimable or
// being claimed (§4.5): SenderReady or Claimed. An unknown id or a
// Registered transfer gets 404; Streaming or a terminal phase gets 410.
func (s *Server) handleTransferMeta(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !transfer.ValidID(id) {
		http.Error(w, "malformed id", http.StatusBadRequest)
		return
	}
	rec := s.registry.Get(id)
	if rec == nil {
		http.NotFound(w, r)
		return
	}
	switch rec.Phase() {
	case transfer.PhaseSenderReady, transfer.PhaseClaimed:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(transferMetaResponse{
			Filename: rec.Metadata.Filename,
			Size:     rec.Metadata.Size,
		})
	case transfer.PhaseRegistered:
		http.NotFound(w, r)
	default:
		http.Error(w, "transfer no longer available", http.StatusGone)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":           "ok",
		"active_transfers": s.registry.Len(),
	})
}
