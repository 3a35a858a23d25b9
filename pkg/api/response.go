package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"bank-gateway/pkg/apperr"
	"bank-gateway/pkg/bank"
	"bank-gateway/pkg/logging"
	"bank-gateway/pkg/session"

	"go.uber.org/zap"
)

// envelope is the JSON shape of every API response.
type envelope struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
	Error     string      `json:"error,omitempty"`
	Auth      interface{} `json:"auth,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// errInvalidJSON marks a body that failed to decode.
var errInvalidJSON = apperr.BadRequest("invalid JSON payload")

// writeError renders err as a failure envelope. Errors that are not
// *apperr.Error are reported as 500 with a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.FromContext(r.Context(), s.logger)

	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal("internal server error", err)
	}

	body := envelope{Message: e.Message, ErrorType: e.Type}
	if e == errInvalidJSON {
		body.Error = "invalid_json_format"
	}

	if e.Kind == apperr.KindInternal {
		logger.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		if s.config.Development {
			body.Message = err.Error()
		}
	}

	writeJSON(w, e.StatusCode(), body)
}

// writeBankError maps a failed banking operation onto an HTTP status.
func (s *Server) writeBankError(w http.ResponseWriter, r *http.Request, err error) {
	var errType bank.ErrorType
	msg := err.Error()
	if opErr, ok := session.AsOpError(err); ok {
		errType = opErr.Type
	} else {
		errType = bank.Classify(err)
	}

	kind := apperr.KindBadGateway
	switch errType {
	case bank.ErrorInvalidCredentials:
		kind = apperr.KindUnauthorized
	case bank.ErrorTimeout:
		kind = apperr.KindGatewayTimeout
	case bank.ErrorUnavailable:
		kind = apperr.KindUnavailable
	}

	s.writeError(w, r, apperr.New(kind, msg).WithType(string(errType)))
}

// bindJSON decodes a JSON object body into dst. It renders the failure and
// returns false when the body is missing, oversized or malformed.
func (s *Server) bindJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	dec := json.NewDecoder(body)

	err := dec.Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.writeError(w, r, apperr.BadRequest("request body too large"))
	case errors.Is(err, io.EOF):
		s.writeError(w, r, apperr.BadRequest("request body is missing or not a JSON object"))
	default:
		s.writeError(w, r, errInvalidJSON)
	}
	return false
}
