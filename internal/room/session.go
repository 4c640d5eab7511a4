package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"talkroom/internal/models"
	"talkroom/internal/provider"
	"talkroom/internal/validator"

	playground "github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const submitKeyLifetime = 10 * time.Minute

// KeyValue remembers recently used client keys so a retried submit does not
// store the same message twice.
type KeyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, val string, expires time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Room is one channel with its fixed configuration. It is safe for
// concurrent use; all per request state lives in Session.
type Room struct {
	channel  string
	cfg      models.RoomConfig
	provider *provider.Provider
	kv       KeyValue
	sugar    *zap.SugaredLogger
	now      func() time.Time
}

func NewRoom(channel string, cfg models.RoomConfig, p *provider.Provider, kv KeyValue, sugar *zap.SugaredLogger) *Room {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Room{
		channel:  channel,
		cfg:      cfg,
		provider: p,
		kv:       kv,
		sugar:    sugar,
		now:      time.Now,
	}
}

func (r *Room) Channel() string {
	return r.channel
}

func (r *Room) Config() models.RoomConfig {
	return r.cfg
}

// DeleteAll wipes the channel. It is an administrative reset and is never
// reachable through a sender's session.
func (r *Room) DeleteAll(ctx context.Context) (int64, error) {
	n, err := r.provider.DeleteChannel(ctx, r.channel)
	if err != nil {
		return 0, newError(KindStorageFailure, "could not reset channel", err)
	}
	return n, nil
}

type Phase int

const (
	PhaseReceived Phase = iota
	PhaseAuthorizing
	PhaseExecuting
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseReceived:
		return "received"
	case PhaseAuthorizing:
		return "authorizing"
	case PhaseExecuting:
		return "executing"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	}
	return "unknown"
}

// Session binds a room to the sender identity pinned for one request.
type Session struct {
	room   *Room
	sender models.Author
	phase  Phase
}

func (r *Room) Session(sender models.Author) *Session {
	return &Session{room: r, sender: sender}
}

func (s *Session) Phase() Phase {
	return s.phase
}

func (s *Session) Sender() models.Author {
	return s.sender
}

func (s *Session) enter(phase Phase) {
	s.phase = phase
}

// finish records the terminal phase and passes err through.
func (s *Session) finish(op string, err error) error {
	if err != nil {
		s.enter(PhaseFailed)
		s.room.sugar.Debugf("%s in channel [%s] by sender ID [%d] failed: %v", op, s.room.channel, s.sender.ID, err)
		return err
	}
	s.enter(PhaseSucceeded)
	return nil
}

// List returns a window of messages, ascending by id. count < 0 falls back
// to the room page size.
func (s *Session) List(ctx context.Context, since int64, dir provider.Direction, count int) ([]models.Message, error) {
	s.enter(PhaseReceived)
	if dir == provider.Point {
		return nil, s.finish("list", newError(KindInvalidRequest, "point lookups go through Get", nil))
	}
	if count < 0 {
		count = s.room.cfg.PageSize
	}

	s.enter(PhaseExecuting)
	messages, err := s.room.provider.List(ctx, s.room.cfg, s.room.channel, since, dir, count)
	if err != nil {
		return nil, s.finish("list", newError(KindStorageFailure, "could not list messages", err))
	}
	return messages, s.finish("list", nil)
}

// Get returns the message with the exact id, or nil when there is none.
func (s *Session) Get(ctx context.Context, id int64) (*models.Message, error) {
	s.enter(PhaseReceived)
	if id <= 0 {
		return nil, s.finish("get", newError(KindInvalidRequest, "message id is required", nil))
	}

	s.enter(PhaseExecuting)
	msg, err := s.room.provider.Get(ctx, s.room.cfg, s.room.channel, id)
	if err != nil {
		return nil, s.finish("get", newError(KindStorageFailure, "could not load message", err))
	}
	return msg, s.finish("get", nil)
}

func (s *Session) submitKey(clientKey string) string {
	return fmt.Sprintf("submit:%s:%d:%s", s.room.channel, s.sender.ID, clientKey)
}

// Create stores a new message authored by the session's sender. Only fields
// the room enables are copied from sub; id, date and approval are set here.
func (s *Session) Create(ctx context.Context, sub models.Submission) (models.Message, error) {
	s.enter(PhaseReceived)
	cfg := s.room.cfg

	s.enter(PhaseAuthorizing)
	if !cfg.AcceptsSubmissions() {
		return models.Message{}, s.finish("create", newError(KindSubmissionsDisabled, "room does not accept new messages", nil))
	}

	if err := validator.Content(sub.Content); err != nil {
		return models.Message{}, s.finish("create", newError(KindInvalidRequest, "invalid content", err))
	}
	if err := validator.Title(sub.Title); err != nil {
		return models.Message{}, s.finish("create", newError(KindInvalidRequest, "invalid title", err))
	}
	if err := validate.Struct(sub); err != nil {
		return models.Message{}, s.finish("create", newError(KindInvalidRequest, describeValidation(err), nil))
	}

	s.enter(PhaseExecuting)
	if sub.ClientKey != "" && s.room.kv != nil {
		existing, err := s.lookupSubmitted(ctx, sub.ClientKey)
		if err != nil {
			return models.Message{}, s.finish("create", err)
		}
		if existing != nil {
			s.room.sugar.Debugf("Submit with client key [%s] already stored as message ID [%d]", sub.ClientKey, existing.ID)
			return *existing, s.finish("create", nil)
		}
	}

	approved := false
	msg := models.Message{
		Channel:  s.room.channel,
		Author:   s.author(sub.Author),
		Content:  sub.Content,
		Date:     s.room.now().Unix(),
		Title:    sub.Title,
		Approved: &approved,
	}
	if cfg.AllowRating && sub.Rating != nil {
		rating := *sub.Rating
		msg.Rating = &rating
	}

	if cfg.AllowReplies && sub.ReplyToID > 0 {
		if err := s.checkReplyTarget(ctx, sub.ReplyToID); err != nil {
			return models.Message{}, s.finish("create", err)
		}
		msg.ReplyToID = sub.ReplyToID
	}

	created, err := s.room.provider.Create(ctx, cfg, msg)
	if err != nil {
		return models.Message{}, s.finish("create", newError(KindStorageFailure, "could not store message", err))
	}

	if sub.ClientKey != "" && s.room.kv != nil {
		err := s.room.kv.Set(ctx, s.submitKey(sub.ClientKey), strconv.FormatInt(created.ID, 10), submitKeyLifetime)
		if err != nil {
			s.room.sugar.Warnf("Could not remember client key [%s]: %v", sub.ClientKey, err)
		}
	}

	return created, s.finish("create", nil)
}

func (s *Session) lookupSubmitted(ctx context.Context, clientKey string) (*models.Message, error) {
	stored, err := s.room.kv.Get(ctx, s.submitKey(clientKey))
	if err != nil {
		s.room.sugar.Warnf("Could not look up client key [%s]: %v", clientKey, err)
		return nil, nil
	}
	if stored == "" {
		return nil, nil
	}

	id, err := strconv.ParseInt(stored, 10, 64)
	if err != nil {
		return nil, nil
	}

	msg, err := s.room.provider.Get(ctx, s.room.cfg, s.room.channel, id)
	if err != nil {
		return nil, newError(KindStorageFailure, "could not load message", err)
	}

	// the stored message was deleted since, the key may be used again
	if msg == nil {
		if err := s.room.kv.Delete(ctx, s.submitKey(clientKey)); err != nil {
			s.room.sugar.Warnf("Could not forget client key [%s]: %v", clientKey, err)
		}
	}
	return msg, nil
}

// author starts from the pinned sender and only takes the fields the room
// asks visitors to fill in from the request.
func (s *Session) author(fields *models.AuthorFields) models.Author {
	author := s.sender
	if fields == nil {
		return author
	}

	cfg := s.room.cfg
	if cfg.RequireAuthorName && fields.Name != "" {
		author.Name = fields.Name
	}
	if cfg.RequireAuthorEmail && fields.Email != "" {
		author.Email = fields.Email
	}
	if cfg.RequireAuthorURL && fields.URL != "" {
		author.URL = fields.URL
	}
	return author
}

func (s *Session) checkReplyTarget(ctx context.Context, parentID int64) error {
	parent, err := s.room.provider.Get(ctx, s.room.cfg, s.room.channel, parentID)
	if err != nil {
		return newError(KindStorageFailure, "could not load reply target", err)
	}
	if parent == nil {
		return newError(KindInvalidRequest, "reply target does not exist", nil)
	}

	levels := s.room.cfg.ReplyLevels
	if levels <= 0 {
		return nil
	}

	depth, err := s.room.provider.Depth(ctx, s.room.channel, parentID)
	if err != nil {
		return newError(KindStorageFailure, "could not resolve reply depth", err)
	}
	if depth+1 > levels {
		return newError(KindInvalidRequest, fmt.Sprintf("replies are limited to %d levels", levels), nil)
	}
	return nil
}

// authorize loads the target of an update or delete and checks that the
// sender is a moderator or wrote it.
func (s *Session) authorize(ctx context.Context, id int64) (*models.Message, error) {
	s.enter(PhaseAuthorizing)
	if id <= 0 {
		return nil, newError(KindInvalidRequest, "message id is required", nil)
	}

	msg, err := s.room.provider.Get(ctx, s.room.cfg, s.room.channel, id)
	if err != nil {
		return nil, newError(KindStorageFailure, "could not load message", err)
	}
	if msg == nil {
		return nil, newError(KindNotFound, fmt.Sprintf("message %d does not exist", id), nil)
	}

	if !s.sender.IsModerator && msg.Author.ID != s.sender.ID {
		return nil, newError(KindForbidden, fmt.Sprintf("sender %d may not modify message %d", s.sender.ID, id), nil)
	}
	return msg, nil
}

// Update replaces the content of a message. No other field can change.
func (s *Session) Update(ctx context.Context, id int64, content string) (models.Message, error) {
	s.enter(PhaseReceived)

	if _, err := s.authorize(ctx, id); err != nil {
		return models.Message{}, s.finish("update", err)
	}
	if err := validator.Content(content); err != nil {
		return models.Message{}, s.finish("update", newError(KindInvalidRequest, "invalid content", err))
	}

	s.enter(PhaseExecuting)
	updated, err := s.room.provider.UpdateContent(ctx, s.room.cfg, s.room.channel, id, content)
	if err != nil {
		return models.Message{}, s.finish("update", newError(KindStorageFailure, "could not update message", err))
	}
	if updated == nil {
		return models.Message{}, s.finish("update", newError(KindNotFound, fmt.Sprintf("message %d was deleted", id), nil))
	}
	return *updated, s.finish("update", nil)
}

// Delete removes a message together with all replies below it and reports
// how many messages were removed.
func (s *Session) Delete(ctx context.Context, id int64) (int, error) {
	s.enter(PhaseReceived)

	if _, err := s.authorize(ctx, id); err != nil {
		return 0, s.finish("delete", err)
	}

	s.enter(PhaseExecuting)
	n, err := s.room.provider.Delete(ctx, s.room.channel, id)
	if err != nil {
		return 0, s.finish("delete", newError(KindStorageFailure, "could not delete message", err))
	}
	return n, s.finish("delete", nil)
}

func describeValidation(err error) string {
	var validateErrs playground.ValidationErrors
	if errors.As(err, &validateErrs) && len(validateErrs) > 0 {
		e := validateErrs[0]
		return fmt.Sprintf("field %s fails %s", e.Namespace(), e.Tag())
	}
	return err.Error()
}
