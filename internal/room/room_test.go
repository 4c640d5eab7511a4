package room_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"talkroom/internal/database"
	"talkroom/internal/keyValue"
	"talkroom/internal/models"
	"talkroom/internal/provider"
	"talkroom/internal/room"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sequence struct {
	mutex sync.Mutex
	last  int64
}

func (s *sequence) Generate() (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.last++
	return s.last, nil
}

var (
	alice     = models.Author{ID: 100, Name: "alice", Icon: "a.png"}
	bob       = models.Author{ID: 200, Name: "bob", Icon: "b.png"}
	moderator = models.Author{ID: 300, Name: "mod", IsModerator: true}
)

func newProvider(t *testing.T) *provider.Provider {
	t.Helper()
	sugar := zap.NewNop().Sugar()

	db, err := database.OpenSqlite(":memory:", sugar)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return provider.New(database.NewMessageTable(db, &sequence{}), sugar)
}

func newKeyValue(t *testing.T) *keyValue.Store {
	t.Helper()
	kv := keyValue.NewLocal(zap.NewNop().Sugar())
	t.Cleanup(func() { kv.Close() })
	return kv
}

func newRoom(t *testing.T, mode string, overrides string) *room.Room {
	t.Helper()
	cfg, err := room.BuildConfig(json.RawMessage(overrides), mode)
	require.NoError(t, err)
	return room.NewRoom("lobby", cfg, newProvider(t), newKeyValue(t), nil)
}

func ids(messages []models.Message) []int64 {
	result := make([]int64, 0, len(messages))
	for _, m := range messages {
		result = append(result, m.ID)
	}
	return result
}

func TestBuildConfig(t *testing.T) {
	chat, err := room.BuildConfig(nil, "")
	require.NoError(t, err)
	assert.Equal(t, room.ModeChat, chat.Mode)
	assert.False(t, chat.AllowReplies)
	assert.False(t, chat.OnlyApproved)
	assert.Equal(t, models.Interval(3000), chat.UpdateInterval)
	assert.Equal(t, 25, chat.PageSize)
	assert.True(t, chat.SubmitOnEnter)
	assert.Equal(t, "Submit", chat.Strings["submit"])

	conversation, err := room.BuildConfig(json.RawMessage(`{"mode": "conversation", "replyLevels": 4, "strings": {"submit": "Post"}}`), "")
	require.NoError(t, err)
	assert.True(t, conversation.AllowReplies)
	assert.True(t, conversation.RequireAuthorName)
	assert.Equal(t, 4, conversation.ReplyLevels)
	assert.Equal(t, models.Interval(30000), conversation.UpdateInterval)
	assert.Equal(t, "Post", conversation.Strings["submit"])
	assert.Equal(t, "Reply", conversation.Strings["reply"])

	// the preset map must not be shared between rooms
	again, err := room.BuildConfig(nil, room.ModeConversation)
	require.NoError(t, err)
	assert.Equal(t, "Submit", again.Strings["submit"])

	disabled, err := room.BuildConfig(json.RawMessage(`{"updateInterval": false}`), room.ModeChat)
	require.NoError(t, err)
	assert.Equal(t, models.Interval(0), disabled.UpdateInterval)

	tests := []struct {
		name string
		raw  string
	}{
		{"unknown key", `{"allowEverything": true}`},
		{"unknown mode", `{"mode": "forum"}`},
		{"negative reply levels", `{"replyLevels": -1}`},
		{"interval true", `{"updateInterval": true}`},
		{"page size too large", `{"pageSize": 100000}`},
		{"not an object", `[1, 2]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := room.BuildConfig(json.RawMessage(tt.raw), "")
			assert.Error(t, err)
		})
	}
}

func TestPublicConfig(t *testing.T) {
	cfg, err := room.BuildConfig(json.RawMessage(`{"debug": true}`), room.ModeChat)
	require.NoError(t, err)

	public := room.PublicConfig(cfg)
	assert.False(t, public.Debug)
	assert.Zero(t, public.ReplyLevels)
}

func TestListWindows(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeChat, "")
	session := r.Session(alice)

	for range 20 {
		_, err := session.Create(ctx, models.Submission{Content: "message"})
		require.NoError(t, err)
	}

	tests := []struct {
		name  string
		since int64
		dir   provider.Direction
		count int
		want  []int64
	}{
		{"backward window below since", 10, provider.Backward, 5, []int64{5, 6, 7, 8, 9}},
		{"backward from zero is newest", 0, provider.Backward, 3, []int64{18, 19, 20}},
		{"backward near the start", 3, provider.Backward, 5, []int64{1, 2}},
		{"forward after since", 17, provider.Forward, 10, []int64{18, 19, 20}},
		{"forward from zero", 0, provider.Forward, 2, []int64{1, 2}},
		{"forward past newest", 20, provider.Forward, 5, []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			messages, err := r.Session(bob).List(ctx, tt.since, tt.dir, tt.count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(messages))
		})
	}

	all, err := session.List(ctx, 0, provider.Forward, 0)
	require.NoError(t, err)
	assert.Len(t, all, 20)

	page, err := session.List(ctx, 0, provider.Forward, -1)
	require.NoError(t, err)
	assert.Len(t, page, 20, "page size of 25 covers everything")

	_, err = session.List(ctx, 0, provider.Point, 1)
	assert.ErrorIs(t, err, room.ErrInvalidRequest)
}

func TestCreateInChatRoom(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeChat, "")
	session := r.Session(alice)

	rating := 4
	msg, err := session.Create(ctx, models.Submission{
		Content:   "hi",
		ReplyToID: 3,
		Rating:    &rating,
		Author:    &models.AuthorFields{Name: "mallory"},
	})
	require.NoError(t, err)

	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "lobby", msg.Channel)
	assert.Zero(t, msg.ReplyToID)
	assert.Nil(t, msg.Rating)
	assert.Nil(t, msg.Approved)
	assert.NotZero(t, msg.Date)
	assert.Equal(t, alice, msg.Author, "chat rooms take the author from the sender only")
	assert.Equal(t, room.PhaseSucceeded, session.Phase())

	got, err := session.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, msg, *got)

	missing, err := session.Get(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		overrides string
		sub       models.Submission
		want      error
	}{
		{"read only room", `{"readOnly": true}`, models.Submission{Content: "hi"}, room.ErrSubmissionsDisabled},
		{"new messages disabled", `{"allowNew": false}`, models.Submission{Content: "hi"}, room.ErrSubmissionsDisabled},
		{"empty content", ``, models.Submission{Content: "   "}, room.ErrInvalidRequest},
		{"multiline title", ``, models.Submission{Content: "hi", Title: "a\nb"}, room.ErrInvalidRequest},
		{"bad client key", ``, models.Submission{Content: "hi", ClientKey: "nope"}, room.ErrInvalidRequest},
		{"missing reply target", `{"allowReplies": true}`, models.Submission{Content: "hi", ReplyToID: 42}, room.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newRoom(t, room.ModeChat, tt.overrides).Session(alice)
			_, err := session.Create(ctx, tt.sub)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, room.PhaseFailed, session.Phase())
		})
	}
}

func TestConversationReplies(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeConversation, `{"allowRating": true}`)
	session := r.Session(bob)

	rating := 5
	root, err := session.Create(ctx, models.Submission{
		Content: "root",
		Title:   "Great",
		Rating:  &rating,
		Author:  &models.AuthorFields{Name: "Bobby", Email: "bob@example.com", URL: "https://example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bobby", root.Author.Name)
	assert.Equal(t, "bob@example.com", root.Author.Email)
	assert.Equal(t, "https://example.com", root.Author.URL)
	assert.Equal(t, bob.ID, root.Author.ID)
	require.NotNil(t, root.Rating)
	assert.Equal(t, 5, *root.Rating)
	require.NotNil(t, root.Approved)
	assert.False(t, *root.Approved)

	first, err := session.Create(ctx, models.Submission{Content: "level 1", ReplyToID: root.ID})
	require.NoError(t, err)
	assert.Equal(t, root.ID, first.ReplyToID)

	second, err := session.Create(ctx, models.Submission{Content: "level 2", ReplyToID: first.ID})
	require.NoError(t, err)

	_, err = session.Create(ctx, models.Submission{Content: "level 3", ReplyToID: second.ID})
	assert.ErrorIs(t, err, room.ErrInvalidRequest)

	unlimited := newRoom(t, room.ModeConversation, `{"replyLevels": 0}`).Session(bob)
	parent := int64(0)
	for range 5 {
		msg, err := unlimited.Create(ctx, models.Submission{Content: "deeper", ReplyToID: parent})
		require.NoError(t, err)
		parent = msg.ID
	}
}

func TestUpdateAndDeleteAuthorization(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeConversation, "")

	msg, err := r.Session(alice).Create(ctx, models.Submission{Content: "original"})
	require.NoError(t, err)

	_, err = r.Session(bob).Update(ctx, msg.ID, "hijacked")
	assert.ErrorIs(t, err, room.ErrForbidden)

	_, err = r.Session(bob).Delete(ctx, msg.ID)
	assert.ErrorIs(t, err, room.ErrForbidden)

	stored, err := r.Session(bob).Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", stored.Content, "a forbidden update must leave the message alone")

	updated, err := r.Session(alice).Update(ctx, msg.ID, "edited")
	require.NoError(t, err)
	assert.Equal(t, "edited", updated.Content)
	assert.Equal(t, msg.Date, updated.Date)

	updated, err = r.Session(moderator).Update(ctx, msg.ID, "moderated")
	require.NoError(t, err)
	assert.Equal(t, "moderated", updated.Content)

	_, err = r.Session(alice).Update(ctx, msg.ID, "")
	assert.ErrorIs(t, err, room.ErrInvalidRequest)

	_, err = r.Session(alice).Update(ctx, 9999, "ghost")
	assert.ErrorIs(t, err, room.ErrNotFound)

	_, err = r.Session(alice).Delete(ctx, 0)
	assert.ErrorIs(t, err, room.ErrInvalidRequest)

	_, err = r.Session(alice).Delete(ctx, 9999)
	assert.ErrorIs(t, err, room.ErrNotFound)
}

func TestDeleteRemovesReplies(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeConversation, "")

	root, err := r.Session(alice).Create(ctx, models.Submission{Content: "root"})
	require.NoError(t, err)
	reply, err := r.Session(bob).Create(ctx, models.Submission{Content: "reply", ReplyToID: root.ID})
	require.NoError(t, err)
	_, err = r.Session(bob).Create(ctx, models.Submission{Content: "nested", ReplyToID: reply.ID})
	require.NoError(t, err)
	other, err := r.Session(bob).Create(ctx, models.Submission{Content: "unrelated"})
	require.NoError(t, err)

	n, err := r.Session(moderator).Delete(ctx, root.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	remaining, err := r.Session(alice).List(ctx, 0, provider.Forward, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{other.ID}, ids(remaining))
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeChat, "")

	for range 3 {
		_, err := r.Session(alice).Create(ctx, models.Submission{Content: "bye"})
		require.NoError(t, err)
	}

	n, err := r.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	remaining, err := r.Session(alice).List(ctx, 0, provider.Forward, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// ids keep growing after a reset
	msg, err := r.Session(alice).Create(ctx, models.Submission{Content: "again"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), msg.ID)
}

func TestClientKeyDeduplicates(t *testing.T) {
	ctx := context.Background()
	r := newRoom(t, room.ModeChat, "")
	key := uuid.NewString()

	first, err := r.Session(alice).Create(ctx, models.Submission{Content: "once", ClientKey: key})
	require.NoError(t, err)
	second, err := r.Session(alice).Create(ctx, models.Submission{Content: "once", ClientKey: key})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// the key is scoped to the sender
	third, err := r.Session(bob).Create(ctx, models.Submission{Content: "once", ClientKey: key})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)

	all, err := r.Session(alice).List(ctx, 0, provider.Forward, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	// once the stored message is gone the key stores a new one
	_, err = r.Session(alice).Delete(ctx, first.ID)
	require.NoError(t, err)
	fourth, err := r.Session(alice).Create(ctx, models.Submission{Content: "once", ClientKey: key})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fourth.ID)

	fifth, err := r.Session(alice).Create(ctx, models.Submission{Content: "once", ClientKey: key})
	require.NoError(t, err)
	assert.Equal(t, fourth.ID, fifth.ID)
}

var errDiskGone = errors.New("disk gone")

type brokenStorage struct{}

func (brokenStorage) Insert(ctx context.Context, row *provider.Row) error {
	return errDiskGone
}

func (brokenStorage) Range(ctx context.Context, channel string, since int64, dir provider.Direction, count int) ([]provider.Row, error) {
	return nil, errDiskGone
}

func (brokenStorage) Get(ctx context.Context, channel string, id int64) (provider.Row, bool, error) {
	return provider.Row{}, false, errDiskGone
}

func (brokenStorage) UpdateContent(ctx context.Context, channel string, id int64, content string) error {
	return errDiskGone
}

func (brokenStorage) Children(ctx context.Context, channel string, parentIDs []int64) ([]int64, error) {
	return nil, errDiskGone
}

func (brokenStorage) Delete(ctx context.Context, channel string, ids []int64) error {
	return errDiskGone
}

func (brokenStorage) DeleteChannel(ctx context.Context, channel string) (int64, error) {
	return 0, errDiskGone
}

func TestStorageFailures(t *testing.T) {
	ctx := context.Background()
	cfg, err := room.BuildConfig(nil, room.ModeChat)
	require.NoError(t, err)
	r := room.NewRoom("lobby", cfg, provider.New(brokenStorage{}, nil), newKeyValue(t), nil)
	session := r.Session(alice)

	_, err = session.List(ctx, 0, provider.Forward, 0)
	assert.ErrorIs(t, err, room.ErrStorageFailure)

	_, err = session.Create(ctx, models.Submission{Content: "lost"})
	assert.ErrorIs(t, err, room.ErrStorageFailure)

	_, err = session.Delete(ctx, 1)
	assert.ErrorIs(t, err, room.ErrStorageFailure)

	status, envelope := room.Failure(err, false)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Empty(t, envelope.Message)
}

func TestRegistry(t *testing.T) {
	p := newProvider(t)
	kv := newKeyValue(t)

	configs := map[string]json.RawMessage{
		"lobby":   json.RawMessage(`{"mode": "chat"}`),
		"reviews": json.RawMessage(`{"mode": "conversation", "allowRating": true}`),
	}

	registry, err := room.NewRegistry(configs, "", p, kv, nil)
	require.NoError(t, err)

	reviews, err := registry.Room("reviews")
	require.NoError(t, err)
	assert.True(t, reviews.Config().AllowRating)
	assert.Equal(t, "reviews", reviews.Channel())

	_, err = registry.Room("elsewhere")
	assert.ErrorIs(t, err, room.ErrNotFound)

	_, err = registry.Room("bad channel!")
	assert.ErrorIs(t, err, room.ErrInvalidRequest)

	open, err := room.NewRegistry(configs, room.ModeConversation, p, kv, nil)
	require.NoError(t, err)

	elsewhere, err := open.Room("elsewhere")
	require.NoError(t, err)
	assert.Equal(t, room.ModeConversation, elsewhere.Config().Mode)

	same, err := open.Room("elsewhere")
	require.NoError(t, err)
	assert.Same(t, elsewhere, same)
	assert.Len(t, open.Configs(), 3)

	_, err = room.NewRegistry(map[string]json.RawMessage{"lobby": json.RawMessage(`{"colour": "red"}`)}, "", p, kv, nil)
	assert.Error(t, err)

	_, err = room.NewRegistry(nil, "forum", p, kv, nil)
	assert.Error(t, err)
}

func TestFailureEnvelope(t *testing.T) {
	ctx := context.Background()
	session := newRoom(t, room.ModeChat, `{"readOnly": true}`).Session(alice)
	_, err := session.Create(ctx, models.Submission{Content: "hi"})
	require.Error(t, err)

	status, envelope := room.Failure(err, false)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, models.Envelope{Status: http.StatusForbidden}, envelope)

	status, envelope = room.Failure(err, true)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Contains(t, envelope.Message, "SubmissionsDisabled")
	assert.Equal(t, "session.go", envelope.File)
	assert.NotZero(t, envelope.Line)

	status, _ = room.Failure(errors.New("disk on fire"), false)
	assert.Equal(t, http.StatusInternalServerError, status)
}
