package provider

import (
	"context"

	gomail "gopkg.in/mail.v2"
)

// NoopProvider is a stubbed provider that pretends to send emails.
type NoopProvider struct{}

// NewNoopProvider constructs a no-op email provider.
func NewNoopProvider() *NoopProvider {
	return &NoopProvider{}
}

// Send returns nil without sending.
func (p *NoopProvider) Send(_ context.Context, _ *gomail.Message) error {
	return nil
}
