package notification

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/hipaa"
)

// LogSender writes outbound messages to the log instead of delivering them.
// It backs email in development and SMS everywhere until a provider is
// configured. Addresses are masked and subjects, which may name the
// account, are never logged.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "log_sender").Logger()}
}

func (s *LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.logger.Info().
		Str("channel", string(ChannelEmail)).
		Str("to", hipaa.MaskEmail(to)).
		Int("subject_bytes", len(subject)).
		Int("body_bytes", len(body)).
		Msg("email not delivered: no SMTP server configured")
	return nil
}

func (s *LogSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info().
		Str("channel", string(ChannelSMS)).
		Str("to", hipaa.MaskPhone(to)).
		Int("body_bytes", len(body)).
		Msg("sms not delivered: no SMS provider configured")
	return nil
}
