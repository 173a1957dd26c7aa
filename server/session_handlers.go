package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/vendio/wasession/internal/utils"
	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa"
)

const contentTypeJSON = "application/json; charset=utf-8"

// InitSessionHandler kicks off session initialization. The response is an
// immediate acknowledgment: pairing codes and the ready transition are
// delivered through the event relay, and GetStatus can be polled meanwhile.
// Initialization failures are relayed as auth-failed events, not returned
// here.
func (s *Server) InitSessionHandler() http.HandlerFunc {
	type initRequest struct {
		TenantID string `json:"tenant_id"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req initRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			clientError(w, "invalid request body")
			return
		}
		if req.TenantID == "" {
			clientError(w, "tenant_id is required")
			return
		}

		if _, err := s.supervisor.InitializeSession(r.Context(), req.TenantID); err != nil {
			// Already published on the relay as auth-failed.
			log.Warn().Str("tenant_id", req.TenantID).Err(err).Msg("session initialization error")
		}

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":    "initializing",
			"tenant_id": req.TenantID,
		})
	}
}

// StatusHandler reports the live connection state and pending pairing code.
func (s *Server) StatusHandler() http.HandlerFunc {
	type statusResponse struct {
		Connected   bool    `json:"connected"`
		PairingCode *string `json:"pairing_code"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := s.status.GetStatus(r.PathValue("tenant"))

		resp := statusResponse{Connected: status.Connected}
		if status.PairingCode != "" {
			resp.PairingCode = utils.Ptr(status.PairingCode)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) GroupsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups, err := s.discovery.ListGroups(r.Context(), r.PathValue("tenant"))
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
	}
}

func (s *Server) ContactsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))
		contacts, err := s.discovery.GroupContacts(r.Context(), r.PathValue("tenant"), refresh)
		if err != nil {
			serviceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"contacts": contacts,
			"total":    len(contacts),
		})
	}
}

// SendHandler dispatches text and/or an image. The two results are reported
// independently; a failed image send does not mask a successful text send.
func (s *Server) SendHandler() http.HandlerFunc {
	type sendRequest struct {
		Destination string `json:"destination"`
		Text        string `json:"text"`
		Image       string `json:"image"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			clientError(w, "invalid request body")
			return
		}
		if req.Destination == "" {
			clientError(w, "destination is required")
			return
		}
		if req.Text == "" && req.Image == "" {
			clientError(w, "at least one of text and image is required")
			return
		}

		result, err := s.dispatch.SendMessage(r.Context(), r.PathValue("tenant"), req.Destination, req.Text, req.Image)
		if err != nil {
			serviceError(w, err)
			return
		}

		resp := map[string]any{"success": true}
		if result.Text != nil {
			resp["text_result"] = result.Text
		}
		if result.Image != nil {
			resp["image_result"] = result.Image
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) SendFileHandler() http.HandlerFunc {
	type fileOptions struct {
		Caption  string `json:"caption"`
		FileName string `json:"file_name"`
		MimeType string `json:"mime_type"`
	}
	type sendFileRequest struct {
		Destination string       `json:"destination"`
		FileURL     string       `json:"file_url"`
		Options     *fileOptions `json:"options"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req sendFileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			clientError(w, "invalid request body")
			return
		}
		if req.Destination == "" {
			clientError(w, "destination is required")
			return
		}
		if req.FileURL == "" {
			clientError(w, "file_url is required")
			return
		}

		opts := utils.Value(req.Options)
		result, err := s.dispatch.SendFileMessage(r.Context(), r.PathValue("tenant"), req.Destination, req.FileURL, wa.FileOptions{
			Caption:  opts.Caption,
			FileName: opts.FileName,
			MimeType: opts.MimeType,
		})
		if err != nil {
			serviceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
	}
}

// DisconnectHandler closes the tenant's session. Disconnecting a tenant
// without a session is not an error.
func (s *Server) DisconnectHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.supervisor.Disconnect(r.PathValue("tenant"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, connected := s.registry.Counts()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"sessions":  total,
			"connected": connected,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func clientError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
}

// serviceError maps core errors onto HTTP statuses. A missing session is a
// conflict the caller can resolve by initializing and pairing first.
func serviceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sessions.ErrNoSession), errors.Is(err, wa.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, sessions.ErrEmptyTenantID):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
