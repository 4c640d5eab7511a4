package provider

import (
	"context"
	"errors"
	"strings"
)

type Direction string

const (
	Forward  Direction = "ASC"
	Backward Direction = "DESC"
	// Point is the pseudo direction used for exact id lookups.
	Point Direction = "ID"
)

// ParseDirection maps a query parameter onto a direction. Anything that is
// not recognized falls back to Forward.
func ParseDirection(s string) Direction {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(Backward):
		return Backward
	case string(Point):
		return Point
	default:
		return Forward
	}
}

// Row is a persisted message with its author flattened into columns.
type Row struct {
	ID              int64
	Channel         string
	AuthorID        int64
	AuthorName      string
	AuthorIcon      string
	AuthorEmail     string
	AuthorURL       string
	AuthorModerator bool
	Content         string
	Date            int64
	ReplyToID       int64
	Title           string
	Rating          int
	Approved        bool
}

var ErrStorage = errors.New("storage failure")

// Storage is the persistence port. Implementations assign ids atomically so
// that two concurrent inserts never share an id, and ids grow with insertion
// order inside a channel.
type Storage interface {
	// Insert stores row and sets row.ID.
	Insert(ctx context.Context, row *Row) error
	// Range returns ids above since in ascending order (Forward) or the ids
	// nearest below since in descending order (Backward). since <= 0 leaves
	// the range unbounded, count <= 0 disables the limit.
	Range(ctx context.Context, channel string, since int64, dir Direction, count int) ([]Row, error)
	Get(ctx context.Context, channel string, id int64) (Row, bool, error)
	UpdateContent(ctx context.Context, channel string, id int64, content string) error
	// Children returns the ids of rows replying to any of parentIDs.
	Children(ctx context.Context, channel string, parentIDs []int64) ([]int64, error)
	Delete(ctx context.Context, channel string, ids []int64) error
	DeleteChannel(ctx context.Context, channel string) (int64, error)
}
