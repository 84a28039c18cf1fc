package email

import (
	"context"
)

// Sender delivers a rendered email. *mail.ResendClient satisfies it.
type Sender interface {
	SendEmail(ctx context.Context, to, subject, htmlContent, textContent string) (string, error)
}
