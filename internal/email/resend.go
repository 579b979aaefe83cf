package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/codeGROOVE-dev/retry"
	"github.com/resend/resend-go/v2"
)

// sendViaResend posts one message, retrying transient API failures. A rate
// limit answer is returned at once: the next import run will report again.
func (s *Service) sendViaResend(ctx context.Context, to []string, subject, htmlBody string) error {
	if s.resendClient == nil {
		return fmt.Errorf("resend client not initialized")
	}
	params := &resend.SendEmailRequest{
		From:    s.config.From,
		To:      to,
		Subject: subject,
		Html:    htmlBody,
	}

	var (
		sent    *resend.SendEmailResponse
		limited *resend.RateLimitError
	)
	err := retry.Do(
		func() error {
			resp, err := s.resendClient.Emails.SendWithContext(ctx, params)
			if err != nil {
				if errors.As(err, &limited) {
					return retry.Unrecoverable(err)
				}
				return err
			}
			sent = resp
			return nil
		},
		retry.Attempts(s.sendAttempts),
		retry.Delay(s.retryDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn().Err(err).Uint("attempt", n+1).Msg("resend send failed, retrying")
		}),
	)

	if limited != nil {
		s.logger.Warn().
			Str("limit", limited.Limit).
			Str("remaining", limited.Remaining).
			Str("reset", limited.Reset).
			Msg("resend rate limit exceeded")
		return fmt.Errorf("email rate limit exceeded (limit: %s, resets in: %s seconds): %w",
			limited.Limit, limited.Reset, limited)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("send import report: %w", ctxErr)
		}
		return fmt.Errorf("resend API error: %w", err)
	}

	s.logger.Info().
		Str("email_id", sent.Id).
		Strs("to", to).
		Msg("import report sent")
	return nil
}
