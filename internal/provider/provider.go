package provider

import (
	"context"
	"fmt"
	"slices"

	"talkroom/internal/models"

	"go.uber.org/zap"
)

// Provider turns storage rows into wire messages and strips every field that
// belongs to a feature the room has switched off. It does not authorize
// anything; callers have already decided the operation is allowed.
type Provider struct {
	storage Storage
	sugar   *zap.SugaredLogger
}

func New(storage Storage, sugar *zap.SugaredLogger) *Provider {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &Provider{storage: storage, sugar: sugar}
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

// List returns messages of channel for a forward or backward window. The
// result is always ascending by id, whatever the direction.
func (p *Provider) List(ctx context.Context, cfg models.RoomConfig, channel string, since int64, dir Direction, count int) ([]models.Message, error) {
	if dir != Backward {
		dir = Forward
	}

	rows, err := p.storage.Range(ctx, channel, since, dir, count)
	if err != nil {
		return nil, storageError("range", err)
	}

	if dir == Backward {
		slices.Reverse(rows)
	}

	// storage is expected to sort already, this only guards against
	// implementations that return ties or unordered pages
	slices.SortStableFunc(rows, func(a, b Row) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, redact(cfg, toMessage(row)))
	}

	p.sugar.Debugf("Listed %d messages of channel [%s] since %d %s", len(messages), channel, since, dir)
	return messages, nil
}

// Get looks a message up by exact id. A missing message is (nil, nil).
func (p *Provider) Get(ctx context.Context, cfg models.RoomConfig, channel string, id int64) (*models.Message, error) {
	row, found, err := p.storage.Get(ctx, channel, id)
	if err != nil {
		return nil, storageError("get", err)
	}
	if !found {
		return nil, nil
	}

	msg := redact(cfg, toMessage(row))
	return &msg, nil
}

// Depth returns how many ancestors the message id has. A top level message
// has depth 0.
func (p *Provider) Depth(ctx context.Context, channel string, id int64) (int, error) {
	depth := 0
	seen := make(map[int64]struct{})

	for id != 0 {
		if _, loop := seen[id]; loop {
			return depth, fmt.Errorf("%w: reply chain of %d loops", ErrStorage, id)
		}
		seen[id] = struct{}{}

		row, found, err := p.storage.Get(ctx, channel, id)
		if err != nil {
			return 0, storageError("get", err)
		}
		if !found || row.ReplyToID == 0 {
			break
		}
		depth++
		id = row.ReplyToID
	}
	return depth, nil
}

// Create persists msg and returns it with the id the storage assigned.
func (p *Provider) Create(ctx context.Context, cfg models.RoomConfig, msg models.Message) (models.Message, error) {
	row := toRow(msg)
	if err := p.storage.Insert(ctx, &row); err != nil {
		return models.Message{}, storageError("insert", err)
	}

	p.sugar.Debugf("Created message ID [%d] in channel [%s]", row.ID, row.Channel)
	return redact(cfg, toMessage(row)), nil
}

// UpdateContent replaces the content of an existing message and returns the
// stored result.
func (p *Provider) UpdateContent(ctx context.Context, cfg models.RoomConfig, channel string, id int64, content string) (*models.Message, error) {
	if err := p.storage.UpdateContent(ctx, channel, id, content); err != nil {
		return nil, storageError("update", err)
	}
	return p.Get(ctx, cfg, channel, id)
}

// Delete removes the message and every stored reply below it.
func (p *Provider) Delete(ctx context.Context, channel string, id int64) (int, error) {
	subtree := []int64{id}
	frontier := []int64{id}
	seen := map[int64]struct{}{id: {}}

	for len(frontier) > 0 {
		children, err := p.storage.Children(ctx, channel, frontier)
		if err != nil {
			return 0, storageError("children", err)
		}

		frontier = frontier[:0]
		for _, child := range children {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			subtree = append(subtree, child)
			frontier = append(frontier, child)
		}
	}

	if err := p.storage.Delete(ctx, channel, subtree); err != nil {
		return 0, storageError("delete", err)
	}

	p.sugar.Debugf("Deleted message ID [%d] and %d replies from channel [%s]", id, len(subtree)-1, channel)
	return len(subtree), nil
}

func (p *Provider) DeleteChannel(ctx context.Context, channel string) (int64, error) {
	n, err := p.storage.DeleteChannel(ctx, channel)
	if err != nil {
		return 0, storageError("delete channel", err)
	}

	p.sugar.Infof("Deleted all %d messages of channel [%s]", n, channel)
	return n, nil
}

func toMessage(row Row) models.Message {
	rating := row.Rating
	approved := row.Approved

	return models.Message{
		ID:      row.ID,
		Channel: row.Channel,
		Author: models.Author{
			ID:          row.AuthorID,
			Name:        row.AuthorName,
			Icon:        row.AuthorIcon,
			Email:       row.AuthorEmail,
			URL:         row.AuthorURL,
			IsModerator: row.AuthorModerator,
		},
		Content:   row.Content,
		Date:      row.Date,
		ReplyToID: row.ReplyToID,
		Title:     row.Title,
		Rating:    &rating,
		Approved:  &approved,
	}
}

func toRow(msg models.Message) Row {
	row := Row{
		ID:              msg.ID,
		Channel:         msg.Channel,
		AuthorID:        msg.Author.ID,
		AuthorName:      msg.Author.Name,
		AuthorIcon:      msg.Author.Icon,
		AuthorEmail:     msg.Author.Email,
		AuthorURL:       msg.Author.URL,
		AuthorModerator: msg.Author.IsModerator,
		Content:         msg.Content,
		Date:            msg.Date,
		ReplyToID:       msg.ReplyToID,
		Title:           msg.Title,
	}
	if msg.Rating != nil {
		row.Rating = *msg.Rating
	}
	if msg.Approved != nil {
		row.Approved = *msg.Approved
	}
	return row
}

func redact(cfg models.RoomConfig, msg models.Message) models.Message {
	if !cfg.AllowRating {
		msg.Rating = nil
	}
	if !cfg.AllowReplies {
		msg.ReplyToID = 0
	}
	if !cfg.OnlyApproved {
		msg.Approved = nil
	}
	return msg
}
