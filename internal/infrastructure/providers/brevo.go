package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

const (
	BrevoName           = "brevo"
	DefaultBrevoBaseURL = "https://api.brevo.com"
	brevoSendPath       = "/v3/smtp/email"
)

// BrevoConfig holds the transactional API settings.
type BrevoConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// BrevoProvider sends through the Brevo transactional email API.
type BrevoProvider struct {
	cfg    BrevoConfig
	client *http.Client
	logger zerolog.Logger
}

// NewBrevoProvider creates a provider. A nil client uses http.DefaultClient;
// the per-request timeout is applied through the request context.
func NewBrevoProvider(cfg BrevoConfig, client *http.Client, logger zerolog.Logger) *BrevoProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBrevoBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &BrevoProvider{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("provider", BrevoName).Logger(),
	}
}

func (p *BrevoProvider) Name() string { return BrevoName }

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	CC          []brevoContact `json:"cc,omitempty"`
	BCC         []brevoContact `json:"bcc,omitempty"`
	ReplyTo     *brevoContact  `json:"replyTo,omitempty"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent,omitempty"`
	TextContent string         `json:"textContent,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
}

func toBrevoContacts(addrs []notification.Address) []brevoContact {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]brevoContact, len(addrs))
	for i, a := range addrs {
		out[i] = brevoContact{Email: a.Email, Name: a.Name}
	}
	return out
}

func (p *BrevoProvider) buildRequest(payload *notification.Payload) brevoRequest {
	req := brevoRequest{
		Sender:      brevoContact{Email: payload.Sender.Email, Name: payload.Sender.Name},
		To:          toBrevoContacts(payload.To),
		CC:          toBrevoContacts(payload.CC),
		BCC:         toBrevoContacts(payload.BCC),
		Subject:     payload.Subject,
		HTMLContent: payload.HTML,
		TextContent: payload.Text,
		Tags:        payload.Tags,
	}
	if payload.ReplyTo != nil {
		req.ReplyTo = &brevoContact{Email: payload.ReplyTo.Email, Name: payload.ReplyTo.Name}
	}
	return req
}

// Send implements Provider.
func (p *BrevoProvider) Send(ctx context.Context, payload *notification.Payload) (*Result, error) {
	body, err := json.Marshal(p.buildRequest(payload))
	if err != nil {
		return nil, fmt.Errorf("marshal brevo request: %w", err)
	}

	ctx, cancel := withTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	url := strings.TrimRight(p.cfg.BaseURL, "/") + brevoSendPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build brevo request: %w", err)
	}
	req.Header.Set("api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	p.logger.Debug().
		Str("url", url).
		Interface("headers", RedactHeaders(req.Header)).
		Int("recipients", len(payload.To)+len(payload.CC)+len(payload.BCC)).
		Msg("Sending email")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, transportError(BrevoName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, transportError(BrevoName, err)
	}
	snippet := TruncateBody(string(raw))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", snippet).
			Msg("Brevo rejected email")
		return nil, domainErrors.NewDeliveryError(BrevoName, resp.StatusCode, snippet, nil)
	}

	var out brevoResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			p.logger.Warn().Err(err).Str("body", snippet).Msg("Unexpected brevo response body")
		}
	}

	p.logger.Debug().Int("status", resp.StatusCode).Str("message_id", out.MessageID).Msg("Email accepted")
	return &Result{MessageID: out.MessageID, Status: "sent"}, nil
}
