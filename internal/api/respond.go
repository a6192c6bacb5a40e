package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ErrorBody is the JSON shape of every non-2xx response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Message: fmt.Sprintf(format, args...),
		Type:    errType,
	}})
}

// parseIntParam reads a positive query integer, falling back to def when it
// is absent or malformed and clamping it to max.
func parseIntParam(r *http.Request, key string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	switch {
	case err != nil || v <= 0:
		return def
	case max > 0 && v > max:
		return max
	}
	return v
}
