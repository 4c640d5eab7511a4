package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"talkroom/internal/metrics"
	"talkroom/internal/models"
	"talkroom/internal/provider"
	"talkroom/internal/room"

	"github.com/go-chi/chi/v5"
)

func GetRoomConfig(w http.ResponseWriter, r *http.Request) {
	rm, _ := roomFrom(r)
	writeEnvelope(w, "config", http.StatusOK, room.PublicConfig(rm.Config()))
}

func parseInt(r *http.Request, name string, fallback int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, room.NewError(room.KindInvalidRequest, fmt.Sprintf("%s must be an integer", name), err)
	}
	return n, nil
}

// ListMessages answers ?since=&dir=&count=. An absent count means the room's
// page size; dir=ID returns the single message with id since, or null.
func ListMessages(w http.ResponseWriter, r *http.Request) {
	rm, _ := roomFrom(r)
	sender, _ := senderFrom(r)
	session := rm.Session(sender)
	debug := rm.Config().Debug

	since, err := parseInt(r, "since", 0)
	if err != nil {
		writeFailure(w, "list", err, debug)
		return
	}

	count, err := parseInt(r, "count", -1)
	if err != nil {
		writeFailure(w, "list", err, debug)
		return
	}

	dir := provider.ParseDirection(r.URL.Query().Get("dir"))
	if dir == provider.Point {
		msg, err := session.Get(r.Context(), since)
		if err != nil {
			writeFailure(w, "get", err, debug)
			return
		}
		writeEnvelope(w, "get", http.StatusOK, msg)
		return
	}

	messages, err := session.List(r.Context(), since, dir, int(count))
	if err != nil {
		writeFailure(w, "list", err, debug)
		return
	}

	metrics.ObserveBatch(len(messages))
	writeEnvelope(w, "list", http.StatusOK, messages)
}

func CreateMessage(w http.ResponseWriter, r *http.Request) {
	rm, _ := roomFrom(r)
	sender, _ := senderFrom(r)
	debug := rm.Config().Debug

	var submission models.Submission
	if err := decodeBody(r, &submission); err != nil {
		writeFailure(w, "create", err, debug)
		return
	}

	msg, err := rm.Session(sender).Create(r.Context(), submission)
	if err != nil {
		writeFailure(w, "create", err, debug)
		return
	}

	writeEnvelope(w, "create", http.StatusCreated, msg)
}

// messageID takes the id from the path, then the query, then the body.
func messageID(r *http.Request, body *models.Edit) (int64, error) {
	if raw := chi.URLParam(r, "id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, room.NewError(room.KindInvalidRequest, "message id must be an integer", err)
		}
		return id, nil
	}

	id, err := parseInt(r, "id", 0)
	if err != nil {
		return 0, err
	}
	if id == 0 && body != nil {
		id = body.ID
	}
	if id <= 0 {
		return 0, room.NewError(room.KindInvalidRequest, "message id is required", nil)
	}
	return id, nil
}

func UpdateMessage(w http.ResponseWriter, r *http.Request) {
	rm, _ := roomFrom(r)
	sender, _ := senderFrom(r)
	debug := rm.Config().Debug

	var edit models.Edit
	if err := decodeBody(r, &edit); err != nil {
		writeFailure(w, "update", err, debug)
		return
	}

	id, err := messageID(r, &edit)
	if err != nil {
		writeFailure(w, "update", err, debug)
		return
	}

	msg, err := rm.Session(sender).Update(r.Context(), id, edit.Content)
	if err != nil {
		writeFailure(w, "update", err, debug)
		return
	}

	writeEnvelope(w, "update", http.StatusOK, msg)
}

func DeleteMessage(w http.ResponseWriter, r *http.Request) {
	rm, _ := roomFrom(r)
	sender, _ := senderFrom(r)
	debug := rm.Config().Debug

	// a body is optional here
	var edit models.Edit
	if r.ContentLength != 0 && chi.URLParam(r, "id") == "" && r.URL.Query().Get("id") == "" {
		if err := decodeBody(r, &edit); err != nil {
			writeFailure(w, "delete", err, debug)
			return
		}
	}

	id, err := messageID(r, &edit)
	if err != nil {
		writeFailure(w, "delete", err, debug)
		return
	}

	n, err := rm.Session(sender).Delete(r.Context(), id)
	if err != nil {
		writeFailure(w, "delete", err, debug)
		return
	}

	metrics.ObserveDeleted(int64(n))
	sugar.Debugf("Deleted message ID [%d] of channel [%s], %d messages removed", id, rm.Channel(), n)
	writeEnvelope(w, "delete", http.StatusOK, nil)
}

// ResetRoom deletes every message of a channel. The route sits behind
// AdminVerifier.
func ResetRoom(w http.ResponseWriter, r *http.Request) {
	rm, err := registry.Room(chi.URLParam(r, "channel"))
	if err != nil {
		writeFailure(w, "reset", err, false)
		return
	}

	n, err := rm.DeleteAll(r.Context())
	if err != nil {
		writeFailure(w, "reset", err, rm.Config().Debug)
		return
	}

	metrics.ObserveDeleted(n)
	sugar.Infof("Reset channel [%s], %d messages deleted", rm.Channel(), n)
	writeEnvelope(w, "reset", http.StatusOK, map[string]int64{"deleted": n})
}
