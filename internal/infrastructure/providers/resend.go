package providers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/resend/resend-go/v3"
	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

const ResendName = "resend"

// ResendConfig holds Resend API settings. BaseURL overrides the SDK
// default when set.
type ResendConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// ResendProvider sends through the Resend SDK.
type ResendProvider struct {
	client *resend.Client
	cfg    ResendConfig
	logger zerolog.Logger
}

// NewResendProvider builds the SDK client on an http.Client whose transport
// records response statuses, since SDK errors do not carry them. A nil
// client uses http.DefaultTransport.
func NewResendProvider(cfg ResendConfig, httpClient *http.Client, logger zerolog.Logger) *ResendProvider {
	base := http.DefaultTransport
	if httpClient != nil && httpClient.Transport != nil {
		base = httpClient.Transport
	}
	client := resend.NewCustomClient(&http.Client{Transport: &statusTransport{base: base}}, strings.TrimSpace(cfg.APIKey))
	if cfg.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err == nil {
			client.BaseURL = u
		}
	}

	return &ResendProvider{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("provider", ResendName).Logger(),
	}
}

func (p *ResendProvider) Name() string { return ResendName }

// Send implements Provider.
func (p *ResendProvider) Send(ctx context.Context, payload *notification.Payload) (*Result, error) {
	ctx, cancel := withTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := &resend.SendEmailRequest{
		From:    formatAddress(payload.Sender),
		To:      addressStrings(payload.To),
		Cc:      addressStrings(payload.CC),
		Bcc:     addressStrings(payload.BCC),
		Subject: payload.Subject,
		Html:    payload.HTML,
		Text:    payload.Text,
	}
	if payload.ReplyTo != nil {
		req.ReplyTo = payload.ReplyTo.Email
	}
	if len(payload.Tags) > 0 {
		req.Tags = convertTags(payload.Tags)
	}

	p.logger.Debug().
		Str("api_key", RedactSecret(p.cfg.APIKey)).
		Int("recipients", len(req.To)+len(req.Cc)+len(req.Bcc)).
		Msg("Sending email")

	status := &responseStatus{}
	sent, err := p.client.Emails.SendWithContext(context.WithValue(ctx, responseStatusKey{}, status), req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, transportError(ResendName, ctx.Err())
		}
		code := resendStatus(err, status.code)
		if code == 0 {
			return nil, transportError(ResendName, err)
		}
		body := TruncateBody(err.Error())
		p.logger.Warn().Int("status", code).Str("error", body).Msg("Resend rejected email")
		return nil, domainErrors.NewDeliveryError(ResendName, code, body, nil)
	}

	return &Result{MessageID: sent.Id, Status: "sent"}, nil
}

// resendStatus maps an SDK error to an HTTP status. recorded is the status
// the transport saw, or 0 when no response arrived. Errors raised after a
// 2xx (a bad response body) count as upstream failures.
func resendStatus(err error, recorded int) int {
	var rateErr *resend.RateLimitError
	var fieldsErr *resend.MissingRequiredFieldsError
	switch {
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests
	case errors.As(err, &fieldsErr):
		return http.StatusBadRequest
	case recorded >= 400:
		return recorded
	case recorded > 0:
		return http.StatusBadGateway
	default:
		return 0
	}
}

type responseStatusKey struct{}

// responseStatus is filled by statusTransport for one request.
type responseStatus struct {
	code int
}

type statusTransport struct {
	base http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		if st, ok := req.Context().Value(responseStatusKey{}).(*responseStatus); ok {
			st.code = resp.StatusCode
		}
	}
	return resp, err
}

func addressStrings(addrs []notification.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = formatAddress(a)
	}
	return out
}

var tagNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// convertTags maps plain tag names to Resend name/value pairs.
// Resend only accepts ASCII letters, digits, underscores and dashes.
func convertTags(tags []string) []resend.Tag {
	result := make([]resend.Tag, 0, len(tags))
	for _, t := range tags {
		name := tagNameChars.ReplaceAllString(t, "_")
		if name == "" {
			continue
		}
		result = append(result, resend.Tag{Name: name, Value: "true"})
	}
	return result
}
