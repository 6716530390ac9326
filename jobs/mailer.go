package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/projecthub/projecthub/internal/jobs"
)

// ErrInvalidAddress rejects sender or recipient addresses containing CR or LF.
var ErrInvalidAddress = errors.New("mailer: invalid address")

// headerFolding flattens line breaks in header values.
var headerFolding = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// Mailer delivers one email.
type Mailer interface {
	Send(ctx context.Context, msg SendEmailPayload) error
}

// SMTPConfig configures SMTPMailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer constructs an SMTPMailer.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send delivers msg. The context is only checked before dialing.
func (m *SMTPMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return errors.New("mailer: recipient required")
	}
	if strings.ContainsAny(msg.To, "\r\n") || strings.ContainsAny(m.cfg.From, "\r\n") {
		return ErrInvalidAddress
	}
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	return m.send(addr, auth, m.cfg.From, []string{msg.To}, m.compose(msg))
}

func (m *SMTPMailer) compose(msg SendEmailPayload) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerFolding.Replace(msg.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// LogMailer records emails instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

// Send logs msg.
func (m LogMailer) Send(ctx context.Context, msg SendEmailPayload) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email suppressed", slog.String("to", msg.To), slog.String("subject", msg.Subject))
	return nil
}

// SendEmailJob processes TaskTypeSendEmail tasks.
type SendEmailJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle delivers one queued email. Malformed payloads are not retried.
func (j *SendEmailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode email payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskTypeSendEmail)
	err := j.Mailer.Send(ctx, payload)
	if err != nil {
		j.logger().Error("send email", slog.String("to", payload.To), slog.Any("error", err))
		if errors.Is(err, ErrInvalidAddress) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
	}
	return tracker.End(err)
}

func (j *SendEmailJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
