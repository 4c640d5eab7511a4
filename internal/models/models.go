package models

import (
	"encoding/json"
	"fmt"
)

type Author struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	Email       string `json:"email,omitempty"`
	URL         string `json:"url,omitempty"`
	IsModerator bool   `json:"isModerator"`
}

// Message is the canonical wire shape. Optional fields are pointers so that
// redaction removes them from the payload instead of sending zero values.
type Message struct {
	ID        int64  `json:"id,omitempty"`
	Channel   string `json:"channel"`
	Author    Author `json:"author"`
	Content   string `json:"content"`
	Date      int64  `json:"date"`
	ReplyToID int64  `json:"replyToID,omitempty"`
	Title     string `json:"title,omitempty"`
	Rating    *int   `json:"rating,omitempty"`
	Approved  *bool  `json:"approved,omitempty"`
}

type AuthorFields struct {
	Name  string `json:"name" validate:"max=64"`
	Email string `json:"email" validate:"omitempty,email,max=128"`
	URL   string `json:"url" validate:"omitempty,url,max=256"`
}

// Submission is the body of a create request.
type Submission struct {
	Content   string        `json:"content"`
	Title     string        `json:"title" validate:"max=128"`
	Rating    *int          `json:"rating" validate:"omitempty,min=0,max=5"`
	ReplyToID int64         `json:"replyToID" validate:"gte=0"`
	Author    *AuthorFields `json:"author"`
	ClientKey string        `json:"clientKey" validate:"omitempty,uuid"`
}

type Edit struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

// Envelope wraps every protocol response. File and Line are only filled in
// when the room runs in debug mode.
type Envelope struct {
	Status  int    `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// Interval is a poll cadence in milliseconds. It also accepts false, which
// disables auto reload like 0 does.
type Interval int

func (i *Interval) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		if b {
			return fmt.Errorf("updateInterval: true is not a valid interval")
		}
		*i = 0
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("updateInterval: %w", err)
	}
	*i = Interval(n)
	return nil
}

type RoomConfig struct {
	Mode               string   `json:"mode" validate:"omitempty,oneof=chat conversation"`
	ReadOnly           bool     `json:"readOnly"`
	AllowNew           bool     `json:"allowNew"`
	AllowReplies       bool     `json:"allowReplies"`
	ReplyLevels        int      `json:"replyLevels,omitempty" validate:"gte=0,lte=32"`
	OnlyApproved       bool     `json:"onlyApproved"`
	AllowRating        bool     `json:"allowRating"`
	RequireAuthorName  bool     `json:"requireAuthorName"`
	RequireAuthorEmail bool     `json:"requireAuthorEmail"`
	RequireAuthorURL   bool     `json:"requireAuthorURL"`
	UpdateInterval     Interval `json:"updateInterval" validate:"gte=0"`
	PageSize           int      `json:"pageSize" validate:"gte=0,lte=1000"`
	Debug              bool     `json:"debug"`

	// presentational toggles, passed through to clients untouched
	ShowUserName          bool              `json:"showUserName"`
	GroupMessages         bool              `json:"groupMessages"`
	ReverseSenderMessages bool              `json:"reverseSenderMessages"`
	ShowFaces             bool              `json:"showFaces"`
	SubmitOnEnter         bool              `json:"submitOnEnter"`
	Strings               map[string]string `json:"strings,omitempty"`
}

// AcceptsSubmissions reports whether new messages may be created.
func (c RoomConfig) AcceptsSubmissions() bool {
	return c.AllowNew && !c.ReadOnly
}

type ConfigFile struct {
	Address           string
	Port              string
	BehindNginx       bool
	TlsCert           string
	TlsKey            string
	PrintHttpRequests bool
	AllowOrigin       string
	LogToFile         bool
	LogLevel          string
	JwtSecret         string
	AdminKeyHash      string
	SnowflakeWorkerID int64
	SelfContained     bool
	SqlitePath        string
	DbUser            string
	DbPassword        string
	DbAddress         string
	DbPort            string
	DbDatabase        string
	RedisAddress      string
	RedisPassword     string
	SubmitRate        float64
	SubmitBurst       int
	GuestRate         float64
	GuestBurst        int
	DefaultRoomMode   string
	Rooms             map[string]json.RawMessage
}
