package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/parley/internal/platform/errors"
)

const maxBodyBytes = 1 << 20

var errInvalidBody = apperrors.New(apperrors.CodeInvalidInput, "request body is not valid JSON for this endpoint")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

// writeError renders domain errors with their own code and message.
// Anything without a domain code is logged and hidden behind INTERNAL.
func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	domainErr, ok := apperrors.As(err)
	if !ok || domainErr.Kind() == apperrors.KindInternal {
		h.logf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Code:    string(apperrors.CodeInternal),
			Message: "internal error",
		})
		return
	}
	writeJSON(w, domainErr.Code.HTTPStatus(), errorBody{
		Code:    string(domainErr.Code),
		Message: domainErr.Message,
	})
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, errInvalidBody.Message, err)
	}
	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errInvalidBody
	}
	return nil
}

// queryInt parses an optional integer parameter. Unparseable values become
// zero so the callee's own validation decides, after its access checks.
func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}
