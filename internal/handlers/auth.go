package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"talkroom/internal/models"
	"talkroom/internal/room"

	"github.com/go-playground/validator/v10"
)

const (
	guestLifetime     = 30 * 24 * time.Hour
	moderatorLifetime = 7 * 24 * time.Hour
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type identityRequest struct {
	Name string `json:"name" validate:"required,max=64"`
	Icon string `json:"icon" validate:"omitempty,max=256"`
}

func decodeIdentity(r *http.Request) (identityRequest, error) {
	var identity identityRequest
	if err := decodeBody(r, &identity); err != nil {
		return identity, err
	}

	if err := validate.Struct(identity); err != nil {
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) && len(validateErrs) > 0 {
			e := validateErrs[0]
			return identity, room.NewError(room.KindInvalidRequest, fmt.Sprintf("field %s fails %s", e.Field(), e.Tag()), nil)
		}
		return identity, err
	}
	return identity, nil
}

func issueSender(w http.ResponseWriter, op string, identity identityRequest, moderator bool, lifetime time.Duration) {
	senderID, err := senderIDs.Generate()
	if err != nil {
		writeFailure(w, op, err, false)
		return
	}

	sender := models.Author{
		ID:          senderID,
		Name:        identity.Name,
		Icon:        identity.Icon,
		IsModerator: moderator,
	}

	cookie, err := issuer.CreateToken(sender, lifetime)
	if err != nil {
		writeFailure(w, op, err, false)
		return
	}

	http.SetCookie(w, &cookie)
	sugar.Infof("Issued sender ID [%d] named [%s], moderator: %t", sender.ID, sender.Name, moderator)
	writeEnvelope(w, op, http.StatusCreated, sender)
}

// Guest mints a sender identity for a visitor.
func Guest(w http.ResponseWriter, r *http.Request) {
	identity, err := decodeIdentity(r)
	if err != nil {
		writeFailure(w, "guest", err, false)
		return
	}
	issueSender(w, "guest", identity, false, guestLifetime)
}

func Me(w http.ResponseWriter, r *http.Request) {
	sender, _ := senderFrom(r)
	writeEnvelope(w, "me", http.StatusOK, sender)
}

// CreateModerator mints a moderator identity. The route sits behind
// AdminVerifier.
func CreateModerator(w http.ResponseWriter, r *http.Request) {
	identity, err := decodeIdentity(r)
	if err != nil {
		writeFailure(w, "moderator", err, false)
		return
	}
	issueSender(w, "moderator", identity, true, moderatorLifetime)
}
