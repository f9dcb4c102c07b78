package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/HyphaGroup/cesvault/internal/cerrors"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps err through the cerrors taxonomy to an HTTP status and a
// plain JSON error body. Internal errors never leak their cause message.
func writeError(w http.ResponseWriter, err error) {
	status := cerrors.StatusFor(err)
	message := err.Error()
	code := "internal"
	if ce, ok := cerrors.As(err); ok {
		code = string(ce.Code)
		if ce.Code == cerrors.CodeInternal {
			message = "internal error"
		}
	} else {
		message = "internal error"
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}
