package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"talkroom/internal/client"
	"talkroom/internal/database"
	"talkroom/internal/handlers"
	"talkroom/internal/jwt"
	"talkroom/internal/keyValue"
	"talkroom/internal/models"
	"talkroom/internal/provider"
	"talkroom/internal/room"
	"talkroom/internal/snowflake"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRoomServer(t *testing.T) *httptest.Server {
	t.Helper()
	sugar := zap.NewNop().Sugar()

	cfg := &models.ConfigFile{
		SubmitRate:  100,
		SubmitBurst: 100,
		Rooms: map[string]json.RawMessage{
			"lobby":  json.RawMessage(`{"mode": "chat"}`),
			"thread": json.RawMessage(`{"mode": "conversation", "pageSize": 2}`),
		},
	}

	db, err := database.OpenSqlite(":memory:", sugar)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	kv := keyValue.NewLocal(sugar)
	t.Cleanup(func() { kv.Close() })

	registry, err := room.NewRegistry(cfg.Rooms, "", provider.New(database.NewMessageTable(db, node), sugar), kv, sugar)
	require.NoError(t, err)

	issuer, err := jwt.NewIssuer("0123456789abcdef0123456789abcdef", false)
	require.NoError(t, err)

	server := httptest.NewServer(handlers.NewRouter(cfg, sugar, registry, issuer, node))
	t.Cleanup(server.Close)
	return server
}

type participant struct {
	transport *client.HTTPTransport
	engine    *client.Engine
	sender    models.Author

	mutex    sync.Mutex
	received []string
}

func join(t *testing.T, server *httptest.Server, channel string, name string) *participant {
	t.Helper()
	ctx := context.Background()

	transport, err := client.NewHTTPTransport(server.URL, channel, nil)
	require.NoError(t, err)

	sender, err := transport.Guest(ctx, name, "")
	require.NoError(t, err)

	cfg, err := transport.Config(ctx)
	require.NoError(t, err)

	p := &participant{transport: transport, sender: sender}
	p.engine = client.NewEngine(transport, client.Options{
		Config: cfg,
		Sender: sender,
		Notify: func(msg *client.Message, background bool) {
			p.mutex.Lock()
			p.received = append(p.received, msg.Data().Content)
			p.mutex.Unlock()
		},
	})
	t.Cleanup(p.engine.Close)

	require.NoError(t, p.engine.Load(ctx))
	return p
}

func (p *participant) inbox() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.received...)
}

func TestEnginesConvergeOverHTTP(t *testing.T) {
	ctx := context.Background()
	server := newRoomServer(t)

	alice := join(t, server, "lobby", "alice")
	bob := join(t, server, "lobby", "bob")

	msg, err := alice.engine.Submit(ctx, models.Submission{Content: "hi"})
	require.NoError(t, err)
	assert.NotZero(t, msg.Data().ID)
	assert.Equal(t, alice.sender.ID, msg.Data().Author.ID)
	assert.Zero(t, msg.Data().ReplyToID)

	_, err = bob.engine.Poll(ctx)
	require.NoError(t, err)
	seen := bob.engine.Find(msg.Data().ID)
	require.NotNil(t, seen)
	assert.Equal(t, "hi", seen.Data().Content)
	assert.Equal(t, []string{"hi"}, bob.inbox())

	// alice's own poll brings her message back; it is recognized
	_, err = alice.engine.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, alice.engine.Roots(), 1)
	assert.Empty(t, alice.inbox())

	require.NoError(t, bob.engine.BeginEdit(seen))
	err = bob.engine.SaveEdit(ctx, seen, "taken over")
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.True(t, seen.IsError())
	require.NoError(t, bob.engine.CancelEdit(seen))
	assert.Equal(t, "hi", seen.Data().Content)

	require.NoError(t, alice.engine.BeginEdit(msg))
	require.NoError(t, alice.engine.SaveEdit(ctx, msg, "hello"))

	stored, err := bob.transport.List(ctx, msg.Data().ID, provider.Point, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Content)

	require.NoError(t, alice.engine.Delete(ctx, msg))
	assert.Empty(t, alice.engine.Roots())

	remaining, err := bob.transport.List(ctx, 0, provider.Forward, 0)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestThreadedRoomOverHTTP(t *testing.T) {
	ctx := context.Background()
	server := newRoomServer(t)

	alice := join(t, server, "thread", "alice")

	root, err := alice.engine.Submit(ctx, models.Submission{
		Content: "root",
		Author:  &models.AuthorFields{Name: "Alice A.", Email: "alice@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", root.Data().Author.Name)

	draft, err := alice.engine.Reply(root)
	require.NoError(t, err)
	require.NoError(t, alice.engine.Send(ctx, draft, "reply"))
	assert.Equal(t, root.Data().ID, draft.Data().ReplyToID)

	for range 3 {
		_, err := alice.engine.Submit(ctx, models.Submission{Content: "more"})
		require.NoError(t, err)
	}

	// a late joiner sees the newest page of two and walks back
	carol := join(t, server, "thread", "carol")
	assert.Len(t, carol.engine.Roots(), 2)

	for !carol.engine.Exhausted() {
		_, err := carol.engine.PollOlder(ctx)
		require.NoError(t, err)
	}

	roots := carol.engine.Roots()
	require.Len(t, roots, 4)
	assert.Equal(t, "root", roots[0].Data().Content)
	replies := carol.engine.Replies(roots[0])
	require.Len(t, replies, 1)
	assert.Equal(t, "reply", replies[0].Data().Content)
	assert.Zero(t, carol.engine.Pending())
}

func TestHTTPTransportErrors(t *testing.T) {
	ctx := context.Background()
	server := newRoomServer(t)

	anonymous, err := client.NewHTTPTransport(server.URL, "lobby", nil)
	require.NoError(t, err)

	_, err = anonymous.Create(ctx, models.Submission{Content: "who am i"})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	missing, err := client.NewHTTPTransport(server.URL, "nowhere", nil)
	require.NoError(t, err)
	_, err = missing.List(ctx, 0, provider.Forward, 0)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	unreachable, err := client.NewHTTPTransport("http://127.0.0.1:1", "lobby", nil)
	require.NoError(t, err)
	_, err = unreachable.List(ctx, 0, provider.Forward, 0)
	assert.ErrorIs(t, err, client.ErrNetwork)
}
