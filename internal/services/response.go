package services

import (
	"encoding/json"
	"net/http"
)

// Envelope is the uniform response shape: code mirrors the HTTP status so
// clients behind proxies that rewrite statuses can still branch on it.
type Envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Entity  interface{} `json:"entity"`
}

func writeEnvelope(w http.ResponseWriter, status int, message string, entity interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Envelope{
		Code:    status,
		Message: message,
		Entity:  entity,
	})
}

func writeSuccess(w http.ResponseWriter, message string, entity interface{}) {
	writeEnvelope(w, http.StatusOK, message, entity)
}

func writeError(w http.ResponseWriter, err error) {
	writeEnvelope(w, statusFor(err), err.Error(), nil)
}
