package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"talkroom/internal/provider"
)

type IDGenerator interface {
	Generate() (int64, error)
}

const messageColumns = `id, channel, author_id, author_name, author_icon, author_email, author_url,
	author_moderator, content, date, reply_to_id, title, rating, approved`

// MessageTable is the sql implementation of provider.Storage. Ids come from
// the generator, which is expected to be strictly increasing.
type MessageTable struct {
	db  *sql.DB
	ids IDGenerator

	// held from id allocation until the row is committed, so rows become
	// visible in id order and a forward poll never skips a late commit
	insertMutex sync.Mutex
}

func NewMessageTable(db *sql.DB, ids IDGenerator) *MessageTable {
	return &MessageTable{db: db, ids: ids}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (provider.Row, error) {
	var row provider.Row
	err := s.Scan(&row.ID, &row.Channel, &row.AuthorID, &row.AuthorName, &row.AuthorIcon, &row.AuthorEmail, &row.AuthorURL,
		&row.AuthorModerator, &row.Content, &row.Date, &row.ReplyToID, &row.Title, &row.Rating, &row.Approved)
	return row, err
}

func (t *MessageTable) Insert(ctx context.Context, row *provider.Row) error {
	t.insertMutex.Lock()
	defer t.insertMutex.Unlock()

	id, err := t.ids.Generate()
	if err != nil {
		return err
	}

	_, err = t.db.ExecContext(ctx, "INSERT INTO messages ("+messageColumns+") VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		id, row.Channel, row.AuthorID, row.AuthorName, row.AuthorIcon, row.AuthorEmail, row.AuthorURL,
		row.AuthorModerator, row.Content, row.Date, row.ReplyToID, row.Title, row.Rating, row.Approved)
	if err != nil {
		return err
	}

	row.ID = id
	return nil
}

func (t *MessageTable) Range(ctx context.Context, channel string, since int64, dir provider.Direction, count int) ([]provider.Row, error) {
	query := "SELECT " + messageColumns + " FROM messages WHERE channel = ?"
	args := []any{channel}

	if dir == provider.Backward {
		if since > 0 {
			query += " AND id < ?"
			args = append(args, since)
		}
		query += " ORDER BY id DESC"
	} else {
		query += " AND id > ?"
		args = append(args, since)
		query += " ORDER BY id ASC"
	}

	if count > 0 {
		query += " LIMIT ?"
		args = append(args, count)
	}

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []provider.Row{}
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *MessageTable) Get(ctx context.Context, channel string, id int64) (provider.Row, bool, error) {
	row, err := scanRow(t.db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE channel = ? AND id = ?", channel, id))
	if errors.Is(err, sql.ErrNoRows) {
		return provider.Row{}, false, nil
	} else if err != nil {
		return provider.Row{}, false, err
	}
	return row, true, nil
}

func (t *MessageTable) UpdateContent(ctx context.Context, channel string, id int64, content string) error {
	_, err := t.db.ExecContext(ctx, "UPDATE messages SET content = ? WHERE channel = ? AND id = ?", content, channel, id)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (t *MessageTable) Children(ctx context.Context, channel string, parentIDs []int64) ([]int64, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(parentIDs)+1)
	args = append(args, channel)
	for _, id := range parentIDs {
		args = append(args, id)
	}

	rows, err := t.db.QueryContext(ctx, "SELECT id FROM messages WHERE channel = ? AND reply_to_id IN ("+placeholders(len(parentIDs))+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		children = append(children, id)
	}
	return children, rows.Err()
}

func (t *MessageTable) Delete(ctx context.Context, channel string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	args := make([]any, 0, len(ids)+1)
	args = append(args, channel)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM messages WHERE channel = ? AND id IN ("+placeholders(len(ids))+")", args...)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (t *MessageTable) DeleteChannel(ctx context.Context, channel string) (int64, error) {
	result, err := t.db.ExecContext(ctx, "DELETE FROM messages WHERE channel = ?", channel)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
