package notifications

import (
	"context"
	"errors"
	"fmt"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

var errNoValidTokens = errors.New("no valid push tokens")

// Pusher delivers mobile push notifications. It returns the tokens the push
// service rejected as unknown so the caller can forget them.
type Pusher interface {
	Push(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error)
}

// Mailer delivers email notifications.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// ExpoPusher sends through the Expo push service.
type ExpoPusher struct {
	client *expo.PushClient
	log    *logrus.Logger
}

func NewExpoPusher(log *logrus.Logger) *ExpoPusher {
	return &ExpoPusher{client: expo.NewPushClient(nil), log: log}
}

// ValidPushToken reports whether token looks like an Expo push token.
func ValidPushToken(token string) bool {
	_, err := expo.NewExponentPushToken(token)
	return err == nil
}

func (p *ExpoPusher) Push(ctx context.Context, tokens []string, title, body string, data map[string]string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		invalid  []string
		valid    []string
		messages []expo.PushMessage
	)
	for _, t := range tokens {
		pushToken, err := expo.NewExponentPushToken(t)
		if err != nil {
			p.log.Warnf("invalid push token format %s: %v", t, err)
			invalid = append(invalid, t)
			continue
		}
		valid = append(valid, t)
		messages = append(messages, expo.PushMessage{
			To:       []expo.ExponentPushToken{pushToken},
			Title:    title,
			Body:     body,
			Sound:    "default",
			Priority: expo.DefaultPriority,
			Data:     data,
		})
	}
	if len(messages) == 0 {
		return invalid, errNoValidTokens
	}

	responses, err := p.client.PublishMultiple(messages)
	if err != nil {
		return invalid, fmt.Errorf("publish push: %w", err)
	}

	var failed int
	for i, resp := range responses {
		if err := resp.ValidateResponse(); err != nil {
			failed++
			if resp.Details["error"] == expo.ErrorDeviceNotRegistered && i < len(valid) {
				invalid = append(invalid, valid[i])
			}
			p.log.Warnf("push ticket rejected: %v", err)
		}
	}
	if failed == len(responses) {
		return invalid, fmt.Errorf("all %d push tickets rejected", failed)
	}
	return invalid, nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends plain text mail through an SMTP relay.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)
	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send mail to %s: %w", to, err)
	}
	return nil
}
