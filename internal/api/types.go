package api

import "encoding/json"

// MessagesResponse from GET /messages
type MessagesResponse struct {
	Messages []APIMessage `json:"messages"`
}

// APIMessage is a notification message as sent by the REST API and the push
// channel.
type APIMessage struct {
	ID        string    `json:"id"`
	Ticker    string    `json:"ticker"`
	Year      int       `json:"year,omitempty"`
	Quarter   int       `json:"quarter,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
	Link      *string   `json:"link"`
	Content   string    `json:"content"`
}

// EarningsResponse from GET /earnings
type EarningsResponse struct {
	Earnings []json.RawMessage `json:"earnings"`
}

// earningsKeys are the fields of an earnings document the service looks at.
// The rest is passed through untouched.
type earningsKeys struct {
	Ticker string `json:"ticker"`
	Date   string `json:"date"`
	Time   string `json:"time"`
}

// PushFrame is one websocket frame on the push channel.
type PushFrame struct {
	Type string      `json:"type"`
	Msg  *APIMessage `json:"msg,omitempty"`
}

// Push frame types.
const (
	FrameMessage   = "message"
	FrameHeartbeat = "heartbeat"
)
