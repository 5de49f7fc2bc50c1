package controller

import (
	"context"
	"net/http"

	"github.com/kitwatch/notifier/internal/domain/notification"
	"github.com/kitwatch/notifier/internal/domain/outbox"
	"github.com/kitwatch/notifier/internal/service"
)

// Notifier is the notification service surface the HTTP layer drives.
type Notifier interface {
	SendNotification(ctx context.Context, msg notification.Message) (*service.SendResult, error)
	SendBulk(ctx context.Context, req service.BulkRequest) (*service.BulkSummary, error)
	FlushOutbox(ctx context.Context) (*service.FlushSummary, error)
	ListOutbox(ctx context.Context) ([]*outbox.Entry, error)
	DiscardOutboxEntry(ctx context.Context, id string) error
}

// NotificationController handles the send endpoints.
type NotificationController struct {
	notifier Notifier
}

func NewNotificationController(notifier Notifier) *NotificationController {
	return &NotificationController{notifier: notifier}
}

// Send handles POST /api/v1/notifications. A message stored in the outbox
// answers 202 with success=false and the outbox id.
func (h *NotificationController) Send(w http.ResponseWriter, r *http.Request) {
	var req SendNotificationRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.notifier.SendNotification(r.Context(), req.toMessage())
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Success {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// SendBulk handles POST /api/v1/notifications/bulk. Per-recipient failures
// are reported in the summary, never as an HTTP error.
func (h *NotificationController) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req SendBulkRequest
	if err := decodeAndValidate(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	summary, err := h.notifier.SendBulk(r.Context(), req.toBulkRequest())
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if summary.Failed > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}
