package service

import "github.com/kitwatch/notifier/internal/domain/notification"

// SendResult is the outcome of one SendNotification call. Exactly one of
// MessageID (Success) or OutboxID (stored for redelivery) is set.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	OutboxID  string `json:"outboxId,omitempty"`
	RequestID string `json:"requestId"`
	Error     string `json:"error,omitempty"`
	Status    int    `json:"status,omitempty"`
}

// FlushSummary aggregates one pass over the outbox.
type FlushSummary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// BulkRequest sends one templated message per recipient. Params, when
// given, is indexed like Recipients. Templates may reference {{email}},
// {{name}} and any per-recipient parameter.
type BulkRequest struct {
	Recipients  []notification.Address
	Params      []map[string]string
	Subject     string
	HTML        string
	Text        string
	Tags        []string
	ReplyTo     string
	Concurrency int
}

type BulkResult struct {
	Email     string `json:"email"`
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	OutboxID  string `json:"outboxId,omitempty"`
	Error     string `json:"error,omitempty"`
}

type BulkSummary struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	Results    []BulkResult `json:"results"`
}
