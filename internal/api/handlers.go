package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/tajalagawani/aura/internal/aav"
	"github.com/tajalagawani/aura/internal/coordinator"
	"github.com/tajalagawani/aura/internal/store"
)

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, http.MethodPost)
		return
	}
	if s.producer == nil {
		s.writeUnavailable(w, "sample ingestion")
		return
	}

	var req SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.AssetID == "" || req.Section == "" {
		s.writeBadRequest(w, "asset_id and section are required")
		return
	}
	if !store.ValidAssetID(req.AssetID) {
		s.writeBadRequest(w, "asset_id must not contain path separators")
		return
	}
	valid := false
	for _, name := range aav.SectionNames {
		if name == req.Section {
			valid = true
			break
		}
	}
	if !valid {
		s.writeBadRequest(w, "unknown section "+req.Section)
		return
	}
	if req.SensorStatus != "" && !aav.ValidStatus(aav.SensorStatus(req.SensorStatus)) {
		s.writeBadRequest(w, "unknown sensor_status "+req.SensorStatus)
		return
	}

	update := aav.SectionUpdate{
		Sensor:       req.Sensor,
		SensorStatus: aav.SensorStatus(req.SensorStatus),
		Fields:       req.Fields,
	}
	now := aav.Now()
	for _, ev := range req.Events {
		update.Events = append(update.Events, aav.Event{
			Timestamp: now,
			Level:     ev.Type,
			Message:   ev.Message,
		})
	}

	// Fire and forget: the sample is queued for the next flush, the
	// caller never waits on disk.
	s.producer.ReportSample(req.AssetID, req.Section, update)

	s.writeJSON(w, http.StatusAccepted, SampleAccepted{
		AssetID: req.AssetID,
		Section: req.Section,
		Queued:  true,
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, http.MethodGet)
		return
	}

	filter := store.Filter{
		AssetType: r.URL.Query().Get("type"),
		Status:    r.URL.Query().Get("status"),
	}
	records, err := s.store.List(filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, &ErrorResponse{
			ErrorType:    ErrorTypeInternal,
			ErrorCode:    "LIST_FAILED",
			ErrorMessage: err.Error(),
			Retryable:    true,
		})
		return
	}

	out := make([]RecordSummary, 0, len(records))
	for _, rec := range records {
		out = append(out, RecordSummary{
			AssetID:     rec.Metadata.AssetID,
			AssetType:   rec.Asset.Type,
			AssetStatus: rec.Asset.Status,
			LastUpdated: rec.Metadata.LastUpdated,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) routeRecords(w http.ResponseWriter, r *http.Request) {
	assetID := strings.TrimPrefix(r.URL.Path, "/records/")
	if assetID == "" || strings.Contains(assetID, "/") {
		s.writeEndpointNotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, http.MethodGet)
		return
	}

	rec, err := s.store.Read(assetID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			s.writeError(w, http.StatusNotFound, &ErrorResponse{
				ErrorType:    ErrorTypeNotFound,
				ErrorCode:    ErrorCodeRecordNotFound,
				ErrorMessage: "no record for asset " + assetID,
				Retryable:    false,
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, &ErrorResponse{
			ErrorType:    ErrorTypeInternal,
			ErrorCode:    "READ_FAILED",
			ErrorMessage: err.Error(),
			Retryable:    true,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGuardianHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeMethodNotAllowed(w, r.Method, http.MethodGet)
		return
	}
	if s.guardian == nil {
		s.writeUnavailable(w, "guardian")
		return
	}
	s.writeJSON(w, http.StatusOK, s.guardian.Health())
}

func (s *Server) routeValidate(w http.ResponseWriter, r *http.Request) {
	assetID := strings.TrimPrefix(r.URL.Path, "/guardian/validate/")
	if assetID == "" || strings.Contains(assetID, "/") {
		s.writeEndpointNotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		s.writeMethodNotAllowed(w, r.Method, http.MethodPost)
		return
	}
	if s.guardian == nil {
		s.writeUnavailable(w, "guardian")
		return
	}

	result := s.guardian.TriggerValidation(r.Context(), assetID)
	s.writeJSON(w, http.StatusOK, ValidationResponse{
		AssetID:  result.AssetID,
		Valid:    result.Valid,
		Errors:   result.Errors,
		Warnings: result.Warnings,
	})
}

func (s *Server) handleShards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		s.writeMethodNotAllowed(w, r.Method, http.MethodPut)
		return
	}
	if s.coord == nil {
		s.writeUnavailable(w, "coordinator")
		return
	}

	var req TopologyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.TotalShards < 1 {
		s.writeBadRequest(w, "total_shards must be at least 1")
		return
	}

	if err := s.coord.SetTotalShards(req.TotalShards); err != nil {
		if errors.Is(err, coordinator.ErrNotLeader) {
			s.writeError(w, http.StatusForbidden, &ErrorResponse{
				ErrorType:    ErrorTypeForbidden,
				ErrorCode:    ErrorCodeNotLeader,
				ErrorMessage: "topology changes must go through the leader",
				Retryable:    false,
			})
			return
		}
		s.writeError(w, http.StatusInternalServerError, &ErrorResponse{
			ErrorType:    ErrorTypeInternal,
			ErrorCode:    ErrorCodeWriteFailed,
			ErrorMessage: err.Error(),
			Retryable:    true,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, TopologyResponse{
		TotalShards: req.TotalShards,
		Leader:      true,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, errResp *ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errResp)
}

func (s *Server) writeMethodNotAllowed(w http.ResponseWriter, method, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    ErrorCodeMethodNotAllowed,
		ErrorMessage: "method " + method + " not allowed",
		Retryable:    false,
	})
}

func (s *Server) writeEndpointNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, &ErrorResponse{
		ErrorType:    ErrorTypeNotFound,
		ErrorCode:    ErrorCodeEndpointNotFound,
		ErrorMessage: "endpoint not found",
		Retryable:    false,
		Details:      map[string]any{"path": r.URL.Path},
	})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	s.writeError(w, http.StatusBadRequest, &ErrorResponse{
		ErrorType:    ErrorTypeInvalidArgument,
		ErrorCode:    ErrorCodeBadRequest,
		ErrorMessage: msg,
		Retryable:    false,
	})
}

func (s *Server) writeUnavailable(w http.ResponseWriter, component string) {
	s.writeError(w, http.StatusServiceUnavailable, &ErrorResponse{
		ErrorType:    ErrorTypeUnavailable,
		ErrorCode:    ErrorCodeUnavailable,
		ErrorMessage: component + " is not enabled on this instance",
		Retryable:    false,
	})
}
