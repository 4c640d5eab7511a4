package handlers

import (
	"encoding/json"
	"net/http"

	"talkroom/internal/metrics"
	"talkroom/internal/models"
	"talkroom/internal/room"
)

func writeEnvelope(w http.ResponseWriter, op string, status int, data any) {
	metrics.ObserveRequest(op, status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(models.Envelope{Status: status, Data: data})
	if err != nil {
		sugar.Error(err)
	}
}

// writeFailure reports err with the status of its kind. Diagnostics are only
// included when debug is set for the room.
func writeFailure(w http.ResponseWriter, op string, err error, debug bool) {
	status, envelope := room.Failure(err, debug)
	if status >= http.StatusInternalServerError {
		sugar.Error(err)
	} else {
		sugar.Debug(err)
	}

	metrics.ObserveRequest(op, status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(envelope); err != nil {
		sugar.Error(err)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return room.NewError(room.KindInvalidRequest, "malformed request body", err)
	}
	return nil
}
