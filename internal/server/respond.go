package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/obligations/pkg/api"
)

type errorBody struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding response", "error", err)
	}
}

// statusFor maps an error kind to an HTTP status.
func statusFor(kind api.ErrorKind) int {
	switch kind {
	case api.KindValidation, api.KindExtraction:
		return http.StatusUnprocessableEntity
	case api.KindUpstream:
		return http.StatusBadGateway
	case api.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := api.KindOf(err)
	status := statusFor(kind)
	body := errorBody{Error: err.Error(), Kind: string(kind)}

	var verr *api.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
		// Store errors stay in the log.
		body.Error = http.StatusText(status)
	} else {
		s.logger.Info("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", kind,
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &api.ValidationError{Fields: map[string]string{"body": fmt.Sprintf("invalid JSON: %v", err)}}
	}
	return nil
}
