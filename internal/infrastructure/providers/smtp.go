package providers

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/notification"
)

const SMTPName = "smtp"

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Timeout  time.Duration
}

func (c SMTPConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 587
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// SMTPProvider submits mail to a relay, upgrading to TLS when offered.
type SMTPProvider struct {
	cfg    SMTPConfig
	logger zerolog.Logger
	dialer *net.Dialer
}

func NewSMTPProvider(cfg SMTPConfig, logger zerolog.Logger) *SMTPProvider {
	return &SMTPProvider{
		cfg:    cfg,
		logger: logger.With().Str("provider", SMTPName).Logger(),
		dialer: &net.Dialer{},
	}
}

func (p *SMTPProvider) Name() string { return SMTPName }

// Send implements Provider.
func (p *SMTPProvider) Send(ctx context.Context, payload *notification.Payload) (*Result, error) {
	ctx, cancel := withTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(payload.Sender.Email))
	msg, err := buildMIME(payload, messageID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("build mime message: %w", err)
	}

	p.logger.Debug().
		Str("relay", p.cfg.addr()).
		Str("username", p.cfg.Username).
		Str("password", RedactSecret(p.cfg.Password)).
		Msg("Submitting email")

	if err := p.submit(ctx, payload, msg); err != nil {
		return nil, p.classify(err)
	}
	return &Result{MessageID: messageID, Status: "sent"}, nil
}

func (p *SMTPProvider) submit(ctx context.Context, payload *notification.Payload, msg []byte) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.addr())
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	// closing the connection unblocks any pending command on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: p.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if p.cfg.Username != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)); err != nil {
				return err
			}
		}
	}

	if err := c.Mail(payload.Sender.Email); err != nil {
		return err
	}
	for _, group := range [][]notification.Address{payload.To, payload.CC, payload.BCC} {
		for _, a := range group {
			if err := c.Rcpt(a.Email); err != nil {
				return err
			}
		}
	}

	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// classify maps SMTP reply codes onto HTTP-like statuses: permanent 5xx
// replies are client errors, transient 4xx replies are retriable.
func (p *SMTPProvider) classify(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		body := TruncateBody(fmt.Sprintf("%d %s", tpErr.Code, tpErr.Msg))
		p.logger.Warn().Int("smtp_code", tpErr.Code).Str("reply", body).Msg("Relay rejected email")
		switch {
		case tpErr.Code >= 500:
			return domainErrors.NewDeliveryError(SMTPName, http.StatusUnprocessableEntity, body, nil)
		case tpErr.Code == 421 || tpErr.Code == 450 || tpErr.Code == 451 || tpErr.Code == 452:
			return domainErrors.NewDeliveryError(SMTPName, http.StatusServiceUnavailable, body, nil)
		default:
			return domainErrors.NewDeliveryError(SMTPName, http.StatusBadGateway, body, nil)
		}
	}
	return transportError(SMTPName, err)
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return email[i+1:]
	}
	return "localhost"
}

func formatAddress(a notification.Address) string {
	return (&mail.Address{Name: a.Name, Address: a.Email}).String()
}

func formatAddressList(addrs []notification.Address) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = formatAddress(a)
	}
	return strings.Join(parts, ", ")
}

// buildMIME renders a multipart/alternative message. Bcc is never written
// to the headers.
func buildMIME(payload *notification.Payload, messageID string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", formatAddress(payload.Sender))
	header("To", formatAddressList(payload.To))
	if len(payload.CC) > 0 {
		header("Cc", formatAddressList(payload.CC))
	}
	if payload.ReplyTo != nil {
		header("Reply-To", formatAddress(*payload.ReplyTo))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", payload.Subject))
	header("Date", now.Format(time.RFC1123Z))
	header("Message-ID", messageID)
	if len(payload.Tags) > 0 {
		header("X-Tags", strings.Join(payload.Tags, ","))
	}
	header("MIME-Version", "1.0")

	mw := multipart.NewWriter(&buf)
	header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
	buf.WriteString("\r\n")

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", payload.Text},
		{"text/html; charset=utf-8", payload.HTML},
	}
	for _, part := range parts {
		if part.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
