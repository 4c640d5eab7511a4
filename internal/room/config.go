package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"maps"

	"talkroom/internal/models"

	"github.com/go-playground/validator/v10"
)

const (
	ModeChat         = "chat"
	ModeConversation = "conversation"

	defaultPageSize = 25
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var defaultStrings = map[string]string{
	"messagePlaceholder": "Enter your message...",
	"submit":             "Submit",
	"reply":              "Reply",
	"retrySend":          "This message didn't send. Check your internet connection and click to try again.",
	"emptyRoom":          "",
	"edit":               "Edit",
	"delete":             "Delete",
	"save":               "Save",
	"cancel":             "Cancel",
	"delete_confirm":     "Are you sure? This cannot be undone",
}

func baseConfig() models.RoomConfig {
	return models.RoomConfig{
		AllowNew:           true,
		AllowReplies:       true,
		ReplyLevels:        2,
		OnlyApproved:       true,
		RequireAuthorName:  true,
		RequireAuthorEmail: true,
		RequireAuthorURL:   true,
		PageSize:           defaultPageSize,
		ShowFaces:          true,
		Strings:            maps.Clone(defaultStrings),
	}
}

// Preset returns the named template every room config starts from.
func Preset(mode string) (models.RoomConfig, error) {
	cfg := baseConfig()
	cfg.Mode = mode

	switch mode {
	case ModeChat:
		cfg.RequireAuthorEmail = false
		cfg.RequireAuthorName = false
		cfg.RequireAuthorURL = false
		cfg.AllowReplies = false
		cfg.UpdateInterval = 3000
		cfg.OnlyApproved = false
		cfg.SubmitOnEnter = true
		cfg.ShowUserName = false
		cfg.GroupMessages = true
		cfg.ReverseSenderMessages = true
		cfg.ShowFaces = true

	case ModeConversation:
		cfg.RequireAuthorEmail = true
		cfg.RequireAuthorName = true
		cfg.RequireAuthorURL = true
		cfg.AllowReplies = true
		cfg.UpdateInterval = 30000
		cfg.SubmitOnEnter = false
		cfg.ShowUserName = true
		cfg.GroupMessages = false
		cfg.ReverseSenderMessages = false
		cfg.ShowFaces = true

	default:
		return models.RoomConfig{}, fmt.Errorf("unrecognized room mode %q", mode)
	}

	return cfg, nil
}

// BuildConfig applies raw overrides on top of the preset named by their
// "mode" key (or defaultMode, or chat). Unknown keys are rejected and the
// result is validated once here.
func BuildConfig(raw json.RawMessage, defaultMode string) (models.RoomConfig, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		raw = []byte("{}")
	}

	var peek struct {
		Mode string `json:"mode"`
	}
	if err := json.Unmarshal(raw, &peek); err != nil {
		return models.RoomConfig{}, fmt.Errorf("room config: %w", err)
	}

	mode := peek.Mode
	if mode == "" {
		mode = defaultMode
	}
	if mode == "" {
		mode = ModeChat
	}

	cfg, err := Preset(mode)
	if err != nil {
		return models.RoomConfig{}, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return models.RoomConfig{}, fmt.Errorf("room config: %w", err)
	}
	cfg.Mode = mode

	if err := validate.Struct(cfg); err != nil {
		var validateErrs validator.ValidationErrors
		if errors.As(err, &validateErrs) && len(validateErrs) > 0 {
			e := validateErrs[0]
			return models.RoomConfig{}, fmt.Errorf("room config: field %s fails %s", e.Field(), e.Tag())
		}
		return models.RoomConfig{}, err
	}

	return cfg, nil
}

// PublicConfig is what clients get to see: options of disabled features are
// removed rather than sent as inert values.
func PublicConfig(cfg models.RoomConfig) models.RoomConfig {
	if !cfg.AllowReplies {
		cfg.ReplyLevels = 0
	}
	cfg.Debug = false
	return cfg
}
