package rest

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/meridianid/audit-ledger-backend/internal/domain/errors"
)

// errorBody is the wire shape of every error response
type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps domain errors onto HTTP responses without leaking
// internal detail
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.GetStatusCode(err)

	var body errorBody
	body.Error.Code = "INTERNAL_ERROR"
	body.Error.Message = "an internal error occurred"
	body.Error.RequestID = RequestIDFrom(r.Context())

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		body.Error.Code = appErr.Code
		if appErr.Type != errors.ErrorTypeInternal {
			body.Error.Message = appErr.Message
		}
	}

	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.NewValidationError("INVALID_JSON", err.Error())
	}
	return nil
}

func errInternal(message string) *errors.AppError {
	return errors.NewInternalError(message)
}

func errUnauthorized(message string) *errors.AppError {
	return &errors.AppError{
		Type:       errors.ErrorTypeValidation,
		Code:       "UNAUTHORIZED",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func errTooManyRequests(message string) *errors.AppError {
	return &errors.AppError{
		Type:       errors.ErrorTypeBusiness,
		Code:       "RATE_LIMITED",
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}
