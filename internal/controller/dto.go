package controller

import (
	"time"

	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/outbox"
	"github.com/kitwatch/notifier/internal/domain/settings"
	"github.com/kitwatch/notifier/internal/service"
)

// --- Request DTOs ---
// Recipient addresses and body rules are checked by the notification
// service so that every violation is reported together. The tags here only
// bound the request shape.

// SendNotificationRequest accepts "to" as a string, an {email, name}
// object or an array of either.
type SendNotificationRequest struct {
	To      notification.Recipients `json:"to" validate:"required,max=50"`
	CC      notification.Recipients `json:"cc,omitempty" validate:"max=50"`
	BCC     notification.Recipients `json:"bcc,omitempty" validate:"max=50"`
	Subject string                  `json:"subject" validate:"max=2000"`
	HTML    string                  `json:"html,omitempty"`
	Text    string                  `json:"text,omitempty"`
	Tags    []string                `json:"tags,omitempty" validate:"max=10,dive,max=64"`
	ReplyTo string                  `json:"replyTo,omitempty" validate:"omitempty,email"`
}

func (r SendNotificationRequest) toMessage() notification.Message {
	return notification.Message{
		To:      r.To,
		CC:      r.CC,
		BCC:     r.BCC,
		Subject: r.Subject,
		HTML:    r.HTML,
		Text:    r.Text,
		Tags:    r.Tags,
		ReplyTo: r.ReplyTo,
	}
}

// BulkRecipient is one address plus the template parameters for it.
type BulkRecipient struct {
	Email  string            `json:"email" validate:"required"`
	Name   string            `json:"name,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

type SendBulkRequest struct {
	Recipients  []BulkRecipient `json:"recipients" validate:"required,min=1,max=500,dive"`
	Subject     string          `json:"subject" validate:"max=2000"`
	HTML        string          `json:"html,omitempty" validate:"required_without=Text"`
	Text        string          `json:"text,omitempty" validate:"required_without=HTML"`
	Tags        []string        `json:"tags,omitempty" validate:"max=10,dive,max=64"`
	ReplyTo     string          `json:"replyTo,omitempty" validate:"omitempty,email"`
	Concurrency int             `json:"concurrency,omitempty" validate:"gte=0,lte=20"`
}

func (r SendBulkRequest) toBulkRequest() service.BulkRequest {
	req := service.BulkRequest{
		Recipients:  make([]notification.Address, len(r.Recipients)),
		Params:      make([]map[string]string, len(r.Recipients)),
		Subject:     r.Subject,
		HTML:        r.HTML,
		Text:        r.Text,
		Tags:        r.Tags,
		ReplyTo:     r.ReplyTo,
		Concurrency: r.Concurrency,
	}
	for i, rc := range r.Recipients {
		req.Recipients[i] = notification.Address{Email: rc.Email, Name: rc.Name}
		req.Params[i] = rc.Params
	}
	return req
}

type SettingRequest struct {
	Key   string             `json:"key" validate:"required,max=64"`
	Value string             `json:"value" validate:"max=4000"`
	Type  settings.ValueType `json:"type,omitempty" validate:"omitempty,oneof=string int date time list"`
}

type UpdateSettingsRequest struct {
	Settings []SettingRequest `json:"settings" validate:"required,min=1,max=50,dive"`
}

// --- Response DTOs ---

// OutboxEntryResponse hides nothing: the outbox is an operator tool and the
// failure diagnostics are what the operator needs.
type OutboxEntryResponse struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"timestamp"`
	Attempts        int       `json:"attempts"`
	To              []string  `json:"to"`
	Subject         string    `json:"subject"`
	FailureReason   string    `json:"failureReason,omitempty"`
	FailureStatus   int       `json:"failureStatus,omitempty"`
	FailureResponse string    `json:"failureResponse,omitempty"`
}

type OutboxListResponse struct {
	Count   int                   `json:"count"`
	Entries []OutboxEntryResponse `json:"entries"`
}

type SettingsResponse struct {
	Settings []*settings.Setting `json:"settings"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string       `json:"error"`
	Code    string       `json:"code"`
	Details []FieldError `json:"details,omitempty"`
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// --- Conversion helpers ---

func fromOutboxEntry(e *outbox.Entry) OutboxEntryResponse {
	return OutboxEntryResponse{
		ID:              e.ID,
		CreatedAt:       e.CreatedAt,
		Attempts:        e.Attempts,
		To:              e.Payload.To.Emails(),
		Subject:         e.Payload.Subject,
		FailureReason:   e.Payload.FailureReason,
		FailureStatus:   e.Payload.FailureStatus,
		FailureResponse: e.Payload.FailureResponse,
	}
}
