package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError answers with the same {"error","code"} body the controllers use.
func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  code,
	})
}
