package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/praxislabs/agentd/internal/service"
)

type apiError struct {
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	ExecutionID string `json:"execution_id,omitempty"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeServiceError(w http.ResponseWriter, err error) {
	kind := service.KindOf(err)
	message := err.Error()
	executionID := ""

	var typed *service.Error
	if errors.As(err, &typed) {
		message = typed.Message
		executionID = typed.ExecutionID
	}

	writeJSON(w, statusFor(kind), apiErrorResponse{
		Error: apiError{
			Kind:        string(kind),
			Message:     message,
			ExecutionID: executionID,
		},
	})
}

func writeBadRequest(w http.ResponseWriter, format string, args ...interface{}) {
	writeJSON(w, http.StatusBadRequest, apiErrorResponse{
		Error: apiError{
			Kind:    string(service.KindValidation),
			Message: fmt.Sprintf(format, args...),
		},
	})
}

func statusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindResourceExhausted:
		return http.StatusTooManyRequests
	case service.KindTimeout:
		return http.StatusRequestTimeout
	case service.KindAgent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain exactly one JSON object")
	}
	return nil
}
