// Package httputil holds the JSON response helpers shared by the debug
// handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/banshee-data/lightsearch/internal/monitoring"
)

// WriteJSON encodes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// WriteJSONError writes {"error": msg} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteError maps err to a status code: 404 for notFound matches, 500
// otherwise.
func WriteError(w http.ResponseWriter, err error, notFound ...error) {
	for _, target := range notFound {
		if errors.Is(err, target) {
			WriteJSONError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	WriteJSONError(w, http.StatusInternalServerError, err.Error())
}
