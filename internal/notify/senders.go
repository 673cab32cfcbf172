package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type PushSender interface {
	SendPush(ctx context.Context, token string, payload []byte) error
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// LogPushSender stands in for a mobile push provider and only logs.
type LogPushSender struct {
	Log zerolog.Logger
}

func (s LogPushSender) SendPush(ctx context.Context, token string, payload []byte) error {
	s.Log.Info().Str("channel", "push").Str("token", token).RawJSON("payload", payload).Msg("push send")
	return nil
}

// LogEmailSender stands in for an SMTP relay and only logs.
type LogEmailSender struct {
	Log zerolog.Logger
}

func (s LogEmailSender) SendEmail(ctx context.Context, to, subject, body string) error {
	s.Log.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Str("body", body).Msg("email send")
	return nil
}
