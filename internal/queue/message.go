package queue

import (
	"time"
)

// Status represents the delivery state of a spooled message
type Status string

const (
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is one accepted send spooled for delivery. Each accepted
// request produces exactly one spool message; the gateway makes at most
// one delivery attempt per message, and AuditIDs names the send-log
// rows to resolve with the outcome.
type Message struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Data      []byte    `json:"data"`       // Raw email data (RFC 5322)
	MessageID string    `json:"message_id"` // Value of the Message-ID header
	AuditIDs  []string  `json:"audit_ids"`  // send_logs rows awaiting the outcome
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
	ClientIP  string    `json:"client_ip,omitempty"`
}

// Stats represents spool statistics
type Stats struct {
	Pending   int64 `json:"pending"`
	Sending   int64 `json:"sending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}
