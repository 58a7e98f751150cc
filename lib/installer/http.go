package installer

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/subgraph/citadel/lib/errdefs"
	"github.com/subgraph/citadel/lib/logger"
)

// Error is the JSON body of a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Routes registers the daemon API on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/disks", s.handleDisks)
	r.Get("/boot-partition", s.handleBootPartition)
	r.Get("/partitions", s.handlePartitions)
	r.Post("/bless", s.handleBless)
	r.Post("/install", s.handleSubmit)
	r.Get("/install/{id}", s.handleGet)
	r.Get("/install/{id}/events", s.handleEvents)
}

func (s *Service) handleDisks(w http.ResponseWriter, r *http.Request) {
	d, err := s.Disks()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Service) handleBootPartition(w http.ResponseWriter, r *http.Request) {
	dev, err := s.BootPartition(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device": dev})
}

func (s *Service) handlePartitions(w http.ResponseWriter, r *http.Request) {
	parts, err := s.Partitions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parts)
}

func (s *Service) handleBless(w http.ResponseWriter, r *http.Request) {
	path, err := s.Bless(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	var body struct {
		Partition *string `json:"partition"`
	}
	if path != "" {
		body.Partition = &path
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Error{Code: "bad_request", Message: err.Error()})
		return
	}
	job, err := s.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	ch, err := s.Subscribe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	stream := ToSSEReader(ch)
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	buf := make([]byte, 4096)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			rc.Flush()
		}
		if err == io.EOF {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error category to an HTTP status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, ErrJobNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, errdefs.ErrFormat):
		status, code = http.StatusBadRequest, "bad_request"
	case errors.Is(err, errdefs.ErrIntegrity):
		status, code = http.StatusUnprocessableEntity, "integrity_error"
	case errors.Is(err, errdefs.ErrPlacement):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, errdefs.ErrResourceBusy):
		status, code = http.StatusConflict, "busy"
	case errors.Is(err, errdefs.ErrEnvironment):
		status, code = http.StatusServiceUnavailable, "unavailable"
	}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "error", err)
	}
	writeJSON(w, status, Error{Code: code, Message: err.Error()})
}
