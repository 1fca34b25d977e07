package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/sessionstate/internal/envelope"
	"github.com/roach88/sessionstate/internal/provider"
	"github.com/roach88/sessionstate/internal/session"
)

const maxBodyBytes = 1 << 20

// Error codes carried in ErrorDetail.Code besides the session error codes.
const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeLocked     = "LOCKED"
	CodeCorrupt    = "CORRUPT_RECORD"
	CodeInternal   = "INTERNAL"
)

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if req.Timeout < 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "timeout must not be negative")
		return
	}
	timeout := req.Timeout
	if timeout == 0 {
		timeout = s.timeout
	}

	id, err := s.p.NewSessionID()
	if err != nil {
		s.internal(w, err)
		return
	}

	if len(req.Items) == 0 && len(req.StaticObjects) == 0 {
		err = s.p.CreateUninitializedItem(r.Context(), id, timeout)
	} else {
		data := s.p.CreateNewStoreData(req.StaticObjects, timeout)
		for _, it := range req.Items {
			data.Items.Set(it.Key, it.Value)
		}
		err = s.p.SetAndReleaseItemExclusive(r.Context(), id, data, 0, true)
	}
	if err != nil {
		s.internal(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{ID: id})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.p.GetItem(r.Context(), id)
	if err != nil {
		s.internal(w, err)
		return
	}
	if !s.found(w, id, res) {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(id, res.Data))
}

func (s *Server) patchSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req PatchRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	res, err := s.p.GetItemExclusive(r.Context(), id)
	if err != nil {
		s.internal(w, err)
		return
	}
	if !s.found(w, id, res) {
		return
	}

	req.apply(res.Data.Items)
	if err := s.p.SetAndReleaseItemExclusive(r.Context(), id, res.Data, res.LockID, false); err != nil {
		// Do not leave the session locked on a failed write.
		if rerr := s.p.ReleaseItemExclusive(r.Context(), id, res.LockID); rerr != nil {
			s.logger.Warn().Err(rerr).Str("session_id", id).Msg("release after failed write")
		}
		s.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(id, res.Data))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.p.RemoveItem(r.Context(), id, 0); err != nil {
		s.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lockSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := s.p.GetItemExclusive(r.Context(), id)
	if err != nil {
		s.internal(w, err)
		return
	}
	if !s.found(w, id, res) {
		return
	}
	writeJSON(w, http.StatusOK, LockView{LockID: res.LockID, Session: viewOf(id, res.Data)})
}

func (s *Server) releaseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	lockID, err := strconv.ParseInt(r.URL.Query().Get("lockId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "lockId query parameter must be an integer")
		return
	}

	if err := s.p.ReleaseItemExclusive(r.Context(), id, lockID); err != nil {
		var serr *session.Error
		if errors.As(err, &serr) {
			writeError(w, http.StatusConflict, string(serr.Code), serr.Message)
			return
		}
		s.internal(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	n, err := s.p.PurgeExpired(r.Context())
	if err != nil {
		s.internal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PurgeResponse{Purged: n})
}

// found writes the 404 or 423 response for a result without data and reports
// whether the handler should continue.
func (s *Server) found(w http.ResponseWriter, id string, res provider.ItemResult) bool {
	switch {
	case res.Found():
		return true
	case res.Locked:
		writeJSON(w, http.StatusLocked, LockedView{ID: id, Locked: true, LockAgeMs: res.LockAge.Milliseconds()})
	default:
		writeError(w, http.StatusNotFound, CodeNotFound, fmt.Sprintf("session %q not found", id))
	}
	return false
}

func (s *Server) internal(w http.ResponseWriter, err error) {
	if envelope.IsFormatError(err) {
		writeError(w, http.StatusInternalServerError, CodeCorrupt, err.Error())
		return
	}
	s.logger.Error().Err(err).Msg("request failed")
	writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
}

// decodeBody reads a JSON body. Numbers decode as json.Number so integers
// survive the round trip. An empty body is accepted when optional is set.
func decodeBody(r *http.Request, v any, optional bool) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if optional {
			return nil
		}
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: ErrorDetail{Code: code, Message: msg}})
}
