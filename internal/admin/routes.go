package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zsiec/netsync/internal/errors"
	"github.com/zsiec/netsync/internal/transport"
	"github.com/zsiec/netsync/pkg/version"
)

// maxBroadcastBody caps POST /api/v1/broadcast bodies.
const maxBroadcastBody = 1 << 20

// ClientsResponse is the body of GET /api/v1/clients.
type ClientsResponse struct {
	Clients []transport.ClientInfo `json:"clients"`
	Count   int                    `json:"count"`
	Time    time.Time              `json:"time"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Network        string        `json:"network"`
	Address        string        `json:"address,omitempty"`
	Listening      bool          `json:"listening"`
	TimeoutEnabled bool          `json:"timeout_enabled"`
	IdleTimeout    string        `json:"idle_timeout"`
	Clients        int           `json:"clients"`
	Ticks          uint64        `json:"ticks"`
	UpdatedAt      time.Time     `json:"updated_at"`
	Queue          QueueStats    `json:"queue"`
	Traffic        TrafficTotals `json:"traffic"`
}

// QueueStats reports delivery queue depths.
type QueueStats struct {
	Reliable   int  `json:"reliable"`
	Unreliable int  `json:"unreliable"`
	Capacity   int  `json:"capacity"`
	Closed     bool `json:"closed"`
}

// TrafficTotals sums the counters of the registered clients.
type TrafficTotals struct {
	BytesIn     int64 `json:"bytes_in"`
	BytesOut    int64 `json:"bytes_out"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

// BroadcastRequest is the body of POST /api/v1/broadcast.
type BroadcastRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
}

// handleVersion handles the /version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := s.writeJSON(w, http.StatusOK, version.GetInfo()); err != nil {
		s.logger.WithError(err).Error("Failed to encode version response")
	}
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	clients := snap.Clients
	if clients == nil {
		clients = []transport.ClientInfo{}
	}
	_ = s.writeJSON(w, http.StatusOK, ClientsResponse{
		Clients: clients,
		Count:   len(clients),
		Time:    snap.UpdatedAt,
	})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ci, ok := s.source.Client(id)
	if !ok {
		s.writeError(w, r, errors.NewNotFoundError("client").WithDetails(map[string]interface{}{"id": id}))
		return
	}
	_ = s.writeJSON(w, http.StatusOK, ci)
}

// handleKickClient queues a disconnect. The client leaves on the next tick.
func (s *Server) handleKickClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.source.Disconnect(id) {
		s.writeError(w, r, errors.NewNotFoundError("client").WithDetails(map[string]interface{}{"id": id}))
		return
	}

	s.logger.WithField("client_id", id).Info("Client disconnect requested")
	_ = s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "disconnecting"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.snapshot(w, r)
	if !ok {
		return
	}

	resp := StatsResponse{
		Network:        snap.Network,
		Address:        snap.Address,
		Listening:      snap.Listening,
		TimeoutEnabled: snap.TimeoutEnabled,
		IdleTimeout:    snap.IdleTimeout.String(),
		Clients:        len(snap.Clients),
		Ticks:          snap.Ticks,
		UpdatedAt:      snap.UpdatedAt,
		Queue: QueueStats{
			Reliable:   snap.Queue.Reliable,
			Unreliable: snap.Queue.Unreliable,
			Capacity:   snap.Queue.Capacity,
			Closed:     snap.Queue.Closed,
		},
	}
	for _, ci := range snap.Clients {
		resp.Traffic.BytesIn += ci.BytesIn
		resp.Traffic.BytesOut += ci.BytesOut
		resp.Traffic.MessagesIn += ci.MessagesIn
		resp.Traffic.MessagesOut += ci.MessagesOut
	}
	_ = s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	body := http.MaxBytesReader(w, r.Body, maxBroadcastBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil && err != io.EOF {
		s.writeError(w, r, errors.NewValidationError("Invalid JSON body"))
		return
	}

	mode, err := transport.ParseDeliveryMode(req.Mode)
	if err != nil {
		s.writeError(w, r, errors.NewValidationError(err.Error()))
		return
	}

	if err := s.source.Broadcast([]byte(req.Message), mode); err != nil {
		s.writeError(w, r, err)
		return
	}
	_ = s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"queued": len(req.Message),
		"mode":   mode.String(),
	})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	recs, err := s.presence.List(r.Context())
	if err != nil {
		s.writeError(w, r, errors.Wrap(err, errors.ErrorTypeServiceDown, "Presence store unavailable", http.StatusServiceUnavailable))
		return
	}
	_ = s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients": recs,
		"count":   len(recs),
	})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) (*transport.Snapshot, bool) {
	snap := s.source.Snapshot()
	if snap == nil {
		s.writeError(w, r, errors.NewServiceDownError("transport"))
		return nil, false
	}
	return snap, true
}

// writeJSON is a helper to write JSON responses
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// writeError is a helper to write error responses
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	s.errorHandler.HandleError(w, r, err)
}
