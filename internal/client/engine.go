package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"talkroom/internal/models"
	"talkroom/internal/provider"

	"go.uber.org/zap"
)

var (
	ErrClosed         = errors.New("engine is closed")
	ErrRepliesOff     = errors.New("replies are disabled in this room")
	ErrTooDeep        = errors.New("reply nesting limit reached")
	ErrUnknownMessage = errors.New("message is not part of the tree")
	ErrNotStored      = errors.New("message has no server id yet")
)

// Visibility tells the engine whether the app is in the background when new
// messages arrive.
type Visibility interface {
	Hidden() bool
}

type Options struct {
	Config models.RoomConfig
	// Sender is shown as the author of optimistic messages until the server
	// answers with the stored author.
	Sender     models.Author
	Visibility Visibility
	// Notify is called outside the engine lock for every message a poll
	// brings in that was not sent from here.
	Notify func(msg *Message, background bool)
	Sugar  *zap.SugaredLogger
}

// Engine keeps a local tree of a channel in sync with the server by polling,
// and applies local sends optimistically.
type Engine struct {
	mutex     sync.Mutex
	transport Transport
	cfg       models.RoomConfig
	sender    models.Author
	tree      *Tree

	lastID       int64
	firstID      int64
	exhausted    bool
	loadingOlder bool
	closed       bool
	done         chan struct{}

	visibility Visibility
	notify     func(msg *Message, background bool)
	sugar      *zap.SugaredLogger
	now        func() time.Time
}

func NewEngine(transport Transport, opts Options) *Engine {
	sugar := opts.Sugar
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}

	return &Engine{
		transport:  transport,
		cfg:        opts.Config,
		sender:     opts.Sender,
		tree:       NewTree(),
		done:       make(chan struct{}),
		visibility: opts.Visibility,
		notify:     opts.Notify,
		sugar:      sugar,
		now:        time.Now,
	}
}

// Close stops Run and makes every later merge and splice a no-op.
func (e *Engine) Close() {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if !e.closed {
		e.closed = true
		close(e.done)
	}
}

func (e *Engine) hidden() bool {
	return e.visibility != nil && e.visibility.Hidden()
}

// MergeBatch folds a server batch into the tree and returns how many
// messages were new. Initial batches do not notify.
func (e *Engine) MergeBatch(batch []models.Message, initial bool) int {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return 0
	}

	var added []*Message
	for _, data := range batch {
		if data.ID == 0 {
			continue
		}
		if data.ID > e.lastID {
			e.lastID = data.ID
		}
		if e.firstID == 0 || data.ID < e.firstID {
			e.firstID = data.ID
		}

		if e.tree.Has(data.ID) {
			continue
		}
		msg := newMessage(data, Confirmed)
		e.tree.Merge(msg)
		added = append(added, msg)
	}
	e.tree.Sweep()
	e.mutex.Unlock()

	if !initial && e.notify != nil {
		background := e.hidden()
		for _, msg := range added {
			if e.sender.ID != 0 && msg.Data().Author.ID == e.sender.ID {
				continue
			}
			e.notify(msg, background)
		}
	}
	return len(added)
}

// Load fetches the newest page. It does not notify.
func (e *Engine) Load(ctx context.Context) error {
	batch, err := e.transport.List(ctx, 0, provider.Backward, e.cfg.PageSize)
	if err != nil {
		return err
	}

	e.MergeBatch(batch, true)

	if len(batch) == 0 {
		e.mutex.Lock()
		e.exhausted = true
		e.mutex.Unlock()
	}
	return nil
}

// Poll asks for everything after the newest known id once and returns the
// size of the batch the server sent.
func (e *Engine) Poll(ctx context.Context) (int, error) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return 0, ErrClosed
	}
	since := e.lastID
	e.mutex.Unlock()

	batch, err := e.transport.List(ctx, since, provider.Forward, e.cfg.PageSize)
	if err != nil {
		return 0, err
	}

	e.MergeBatch(batch, false)
	return len(batch), nil
}

// PollOlder loads the page before the oldest known id. Once the server has
// nothing older the engine stops asking.
func (e *Engine) PollOlder(ctx context.Context) (int, error) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return 0, ErrClosed
	}
	if e.exhausted || e.loadingOlder {
		e.mutex.Unlock()
		return 0, nil
	}
	e.loadingOlder = true
	since := e.firstID
	e.mutex.Unlock()

	defer func() {
		e.mutex.Lock()
		e.loadingOlder = false
		e.mutex.Unlock()
	}()

	batch, err := e.transport.List(ctx, since, provider.Backward, e.cfg.PageSize)
	if err != nil {
		return 0, err
	}

	if len(batch) == 0 {
		e.mutex.Lock()
		e.exhausted = true
		e.mutex.Unlock()
		return 0, nil
	}

	return e.MergeBatch(batch, true), nil
}

// Run polls every updateInterval until ctx is done or the engine is closed.
// The timer is only re-armed after a round trip completes, and a full page
// is followed by an immediate catch-up poll. With an interval of 0 it
// returns right away.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.UpdateInterval) * time.Millisecond
	if interval <= 0 {
		return nil
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.done:
			return nil
		case <-timer.C:
		}

		for {
			n, err := e.Poll(ctx)
			if errors.Is(err, ErrClosed) {
				return nil
			}
			if err != nil {
				e.sugar.Warnf("Polling channel failed: %v", err)
				break
			}
			if e.cfg.PageSize <= 0 || n < e.cfg.PageSize {
				break
			}
			e.sugar.Debugf("Full page of %d messages, polling again", n)
		}

		timer.Reset(interval)
	}
}

// Submit inserts a message optimistically and sends it. The returned
// message is in the tree either way; on failure it is Failed and can be
// retried.
func (e *Engine) Submit(ctx context.Context, sub models.Submission) (*Message, error) {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil, ErrClosed
	}

	var parent *Message
	if sub.ReplyToID != 0 {
		if !e.cfg.AllowReplies {
			e.mutex.Unlock()
			return nil, ErrRepliesOff
		}
		parent = e.tree.Find(sub.ReplyToID)
		if parent == nil {
			e.mutex.Unlock()
			return nil, fmt.Errorf("%w: parent %d", ErrUnknownMessage, sub.ReplyToID)
		}
		if err := e.checkDepth(parent); err != nil {
			e.mutex.Unlock()
			return nil, err
		}
	}

	msg := newMessage(models.Message{
		Author:    e.sender,
		Content:   sub.Content,
		Date:      e.now().Unix(),
		ReplyToID: sub.ReplyToID,
		Title:     sub.Title,
		Rating:    sub.Rating,
	}, Draft)
	msg.fields = sub.Author
	e.tree.InsertLocal(msg, parent)
	e.mutex.Unlock()

	return msg, e.send(ctx, msg)
}

func (e *Engine) checkDepth(parent *Message) error {
	levels := e.cfg.ReplyLevels
	if levels > 0 && e.tree.Depth(parent)+1 > levels {
		return ErrTooDeep
	}
	return nil
}

// Reply puts an empty draft below parent for the user to fill in and Send.
func (e *Engine) Reply(parent *Message) (*Message, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if !e.cfg.AllowReplies {
		return nil, ErrRepliesOff
	}
	if parent.ID == 0 || e.tree.Find(parent.ID) != parent {
		return nil, ErrNotStored
	}
	if err := e.checkDepth(parent); err != nil {
		return nil, err
	}

	msg := newMessage(models.Message{
		Author:    e.sender,
		Date:      e.now().Unix(),
		ReplyToID: parent.ID,
	}, Draft)
	e.tree.InsertLocal(msg, parent)
	return msg, nil
}

// Send sends a draft made by Reply with the given content.
func (e *Engine) Send(ctx context.Context, msg *Message, content string) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	if msg.State() != Draft {
		e.mutex.Unlock()
		return fmt.Errorf("%w: send from %s", ErrInvalidTransition, msg.State())
	}
	msg.update(func(data *models.Message) { data.Content = content })
	e.mutex.Unlock()

	return e.send(ctx, msg)
}

// send performs the single create round trip of a Draft or Failed message.
func (e *Engine) send(ctx context.Context, msg *Message) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	if err := msg.transition(Sending, nil); err != nil {
		e.mutex.Unlock()
		return err
	}
	data := msg.Data()
	e.mutex.Unlock()

	// the local key doubles as the idempotency key, so a retry after a lost
	// response does not store the message twice
	created, err := e.transport.Create(ctx, models.Submission{
		Content:   data.Content,
		Title:     data.Title,
		Rating:    data.Rating,
		ReplyToID: data.ReplyToID,
		Author:    msg.fields,
		ClientKey: msg.Key.String(),
	})

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err != nil {
		e.sugar.Debugf("Sending message %s failed: %v", msg.Key, err)
		if terr := msg.transition(Failed, err); terr != nil {
			return terr
		}
		return err
	}

	msg.update(func(data *models.Message) {
		data.ID = created.ID
		data.Channel = created.Channel
		data.Author = created.Author
		data.Content = created.Content
		data.Date = created.Date
		data.Approved = created.Approved
		data.Rating = created.Rating
		data.Title = created.Title
	})
	msg.confirmed = created.Content
	e.tree.Confirm(msg)
	return msg.transition(Confirmed, nil)
}

// Retry re-sends a Failed message, as a create when it never got an id and
// as an update otherwise. The message keeps its identity.
func (e *Engine) Retry(ctx context.Context, msg *Message) error {
	if msg.State() != Failed {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, msg.State())
	}
	if msg.Data().ID == 0 {
		return e.send(ctx, msg)
	}
	return e.saveEdit(ctx, msg)
}

// BeginEdit opens a confirmed message for editing.
func (e *Engine) BeginEdit(msg *Message) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err := msg.transition(EditPending, nil); err != nil {
		return err
	}
	msg.confirmed = msg.Content
	return nil
}

// SaveEdit sends the new content of a message opened with BeginEdit.
func (e *Engine) SaveEdit(ctx context.Context, msg *Message, content string) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	if msg.State() != EditPending {
		e.mutex.Unlock()
		return fmt.Errorf("%w: save from %s", ErrInvalidTransition, msg.State())
	}
	msg.update(func(data *models.Message) { data.Content = content })
	e.mutex.Unlock()

	return e.saveEdit(ctx, msg)
}

func (e *Engine) saveEdit(ctx context.Context, msg *Message) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	if err := msg.transition(Sending, nil); err != nil {
		e.mutex.Unlock()
		return err
	}
	data := msg.Data()
	e.mutex.Unlock()

	updated, err := e.transport.Update(ctx, data.ID, data.Content)

	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err != nil {
		if terr := msg.transition(Failed, err); terr != nil {
			return terr
		}
		return err
	}

	msg.update(func(data *models.Message) { data.Content = updated.Content })
	msg.confirmed = updated.Content
	return msg.transition(Confirmed, nil)
}

// CancelEdit abandons local changes. A message that never got an id is
// removed from the tree; a stored message goes back to its confirmed
// content.
func (e *Engine) CancelEdit(msg *Message) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return ErrClosed
	}

	state := msg.State()
	if msg.ID == 0 {
		if state != Draft && state != Failed {
			return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, state)
		}
		e.tree.Remove(msg)
		return nil
	}

	if state != EditPending && state != Failed {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, state)
	}
	msg.update(func(data *models.Message) { data.Content = msg.confirmed })
	return msg.transition(Confirmed, nil)
}

// Delete removes msg and its replies once the server confirmed the delete.
// A message without an id only exists here and is removed directly.
func (e *Engine) Delete(ctx context.Context, msg *Message) error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return ErrClosed
	}
	if !e.tree.placed(msg) {
		e.mutex.Unlock()
		return ErrUnknownMessage
	}
	if msg.State() == Sending {
		e.mutex.Unlock()
		return fmt.Errorf("%w: delete while sending", ErrInvalidTransition)
	}
	id := msg.ID
	if id == 0 {
		e.tree.Remove(msg)
		e.mutex.Unlock()
		return nil
	}
	e.mutex.Unlock()

	if err := e.transport.Delete(ctx, id); err != nil {
		return err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.tree.Remove(msg)
	return nil
}

func (e *Engine) Roots() []*Message {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.tree.Roots()
}

func (e *Engine) Replies(msg *Message) []*Message {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.tree.Children(msg)
}

// Find returns the placed message with id, or nil.
func (e *Engine) Find(id int64) *Message {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.tree.Find(id)
}

// Watermarks returns the smallest and largest id merged from the server.
func (e *Engine) Watermarks() (first int64, last int64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.firstID, e.lastID
}

func (e *Engine) Exhausted() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.exhausted
}

// Pending is the number of replies still waiting for their parent.
func (e *Engine) Pending() int {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.tree.PendingLen()
}
