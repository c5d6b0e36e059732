package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wofinder/internal/discovery"
	"github.com/HerbHall/wofinder/internal/scheduler"
	"github.com/HerbHall/wofinder/internal/version"
	"github.com/HerbHall/wofinder/pkg/models"
)

const maxBodyBytes = 64 << 10

// serversResponse is the body of GET /api/v1/servers.
type serversResponse struct {
	Success      bool                  `json:"success"`
	Servers      []models.ServerRecord `json:"servers"`
	LastScanTime time.Time             `json:"lastScanTime,omitzero"`
}

type healthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      map[string]string `json:"version"`
	Scanning     bool              `json:"scanning"`
	LastScanTime time.Time         `json:"lastScanTime,omitzero"`
	LastCycle    *cycleSummary     `json:"lastCycle,omitempty"`
}

// cycleSummary is the most recent scheduled or manual cycle, without its
// server list.
type cycleSummary struct {
	ScanID  string `json:"scanId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Online  int    `json:"online"`
	Offline int    `json:"offline"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:       "ok",
		Service:      "wofinder",
		Version:      version.Map(),
		Scanning:     s.trigger.Busy(),
		LastScanTime: s.svc.LastScanTime(),
	}
	if last := s.trigger.Last(); last.ScanID != "" {
		resp.LastCycle = &cycleSummary{
			ScanID:  last.ScanID,
			Success: last.Success,
			Error:   last.Error,
			Online:  last.Online,
			Offline: last.Offline,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, serversResponse{
		Success:      true,
		Servers:      s.svc.Servers(),
		LastScanTime: s.svc.LastScanTime(),
	})
}

// handleDiscovery runs a cycle synchronously. The cycle is detached from
// the request context so a disconnecting client does not cut probes short.
// A request refused with 409 gives its rate-limit token back.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.trigger.Busy() {
		Conflict(w, scheduler.ErrCycleInProgress.Error(), r.URL.Path)
		return
	}

	now := time.Now()
	res := s.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
		RateLimited(w, "discovery was requested too recently", r.URL.Path)
		return
	}

	result, err := s.trigger.Trigger(context.WithoutCancel(r.Context()))
	if errors.Is(err, scheduler.ErrCycleInProgress) {
		res.CancelAt(now)
		Conflict(w, err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		InternalError(w, err.Error(), r.URL.Path)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var in discovery.ManualServerInput
	if !decodeBody(w, r, &in) {
		return
	}
	s.writeResult(w, r, s.svc.AddManualServer(in), http.StatusCreated)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var in discovery.ManualServerInput
	if !decodeBody(w, r, &in) {
		return
	}
	s.writeResult(w, r, s.svc.UpdateManualServer(r.PathValue("id"), in), http.StatusOK)
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.svc.RemoveManualServer(r.PathValue("id")), http.StatusOK)
}

func (s *Server) handleClearOffline(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r, s.svc.ClearOfflineServers(), http.StatusOK)
}

// writeResult writes a successful result with status ok, or maps the
// result's error to a problem response.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, res discovery.Result, ok int) {
	if res.Success {
		writeJSON(w, ok, res)
		return
	}

	err := res.Err()
	switch {
	case errors.Is(err, discovery.ErrServerNotFound):
		NotFound(w, res.Error, r.URL.Path)
	case errors.Is(err, discovery.ErrInvalidIP), errors.Is(err, discovery.ErrInvalidPort):
		BadRequest(w, res.Error, r.URL.Path)
	case errors.Is(err, discovery.ErrNotManual), errors.Is(err, discovery.ErrServerExists):
		Conflict(w, res.Error, r.URL.Path)
	default:
		s.logger.Error("server operation failed", zap.String("path", r.URL.Path), zap.String("error", res.Error))
		InternalError(w, res.Error, r.URL.Path)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		BadRequest(w, "invalid request body: "+err.Error(), r.URL.Path)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Wofinder-Version", version.Short())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
