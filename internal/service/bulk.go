package service

import (
	"context"
	"maps"

	"golang.org/x/sync/errgroup"

	"github.com/kitwatch/notifier/internal/domain/notification"
)

const DefaultBulkConcurrency = 5

// SendBulk delivers one rendered message per recipient. Recipients are cut
// into chunks of req.Concurrency; chunks run one after another with a short
// pause, sends inside a chunk run concurrently. A failing recipient never
// stops the batch.
func (s *NotificationService) SendBulk(ctx context.Context, req BulkRequest) (*BulkSummary, error) {
	concurrency := req.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultBulkConcurrency
	}

	results := make([]BulkResult, len(req.Recipients))
	chunk := 0
	for start := 0; start < len(req.Recipients); start += concurrency {
		end := min(start+concurrency, len(req.Recipients))

		if chunk > 0 {
			if err := sleep(ctx, s.chunkPause); err != nil {
				return nil, err
			}
		}
		if s.chunkHook != nil {
			s.chunkHook(chunk, end-start)
		}

		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				results[i] = s.sendOne(ctx, req, i)
				return nil
			})
		}
		_ = g.Wait()
		chunk++
	}

	summary := &BulkSummary{Total: len(results), Results: results}
	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	if s.metrics != nil {
		s.metrics.BulkRecipients.WithLabelValues("succeeded").Add(float64(summary.Successful))
		s.metrics.BulkRecipients.WithLabelValues("failed").Add(float64(summary.Failed))
	}

	s.logger.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int("chunks", chunk).
		Msg("Bulk send finished")
	return summary, nil
}

func (s *NotificationService) sendOne(ctx context.Context, req BulkRequest, i int) BulkResult {
	recipient := req.Recipients[i]
	params := map[string]string{}
	if i < len(req.Params) && req.Params[i] != nil {
		maps.Copy(params, req.Params[i])
	}
	params["email"] = recipient.Email
	if _, ok := params["name"]; !ok {
		params["name"] = recipient.Name
	}

	msg := notification.Message{
		To:      notification.Recipients{recipient},
		Subject: notification.RenderTemplate(req.Subject, params),
		HTML:    notification.RenderTemplate(req.HTML, params),
		Text:    notification.RenderTemplate(req.Text, params),
		Tags:    req.Tags,
		ReplyTo: req.ReplyTo,
	}

	res, err := s.SendNotification(ctx, msg)
	if err != nil {
		return BulkResult{Email: recipient.Email, Error: err.Error()}
	}
	return BulkResult{
		Email:     recipient.Email,
		Success:   res.Success,
		MessageID: res.MessageID,
		OutboxID:  res.OutboxID,
		Error:     res.Error,
	}
}
