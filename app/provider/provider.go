package provider

import (
	"context"

	gomail "gopkg.in/mail.v2"
)

type EmailProvider interface {
	Send(ctx context.Context, msg *gomail.Message) error
}
