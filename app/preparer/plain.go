package preparer

import (
	"context"
	"fmt"
	netmail "net/mail"
	"strings"

	gomail "gopkg.in/mail.v2"
)

// AddressStep resolves the sender and recipient mailboxes. Both are parsed as
// "Name <address>" so anything that would not survive in a header is rejected.
type AddressStep struct {
	fromName      string
	fromAddress   string
	recipientName string
}

// NewAddressStep creates the step with the fixed sender identity.
func NewAddressStep(fromName string, fromAddress string, recipientName string) *AddressStep {
	return &AddressStep{fromName: fromName, fromAddress: fromAddress, recipientName: recipientName}
}

func (s *AddressStep) Prepare(_ context.Context, msg *Message) error {
	from, err := parseMailbox(s.fromName, s.fromAddress)
	if err != nil {
		return fmt.Errorf("invalid sender address %q: %w", s.fromAddress, err)
	}
	to, err := parseMailbox(s.recipientName, msg.Recipient)
	if err != nil {
		return fmt.Errorf("invalid recipient address %q: %w", msg.Recipient, err)
	}

	msg.From = from
	msg.To = to
	return nil
}

func parseMailbox(name string, address string) (Address, error) {
	if strings.TrimSpace(address) == "" {
		return Address{}, fmt.Errorf("address is empty")
	}

	raw := "<" + address + ">"
	if name != "" {
		raw = name + " " + raw
	}
	parsed, err := netmail.ParseAddress(raw)
	if err != nil {
		return Address{}, err
	}
	return Address{Name: parsed.Name, Email: parsed.Address}, nil
}

// PlainTextStep builds the outgoing text/plain message.
type PlainTextStep struct{}

// NewPlainTextStep creates a step that renders headers and body.
func NewPlainTextStep() *PlainTextStep {
	return &PlainTextStep{}
}

// Prepare requires AddressStep to have run first. The subject is kept
// verbatim; control characters end up inside an RFC 2047 encoded-word.
func (p *PlainTextStep) Prepare(_ context.Context, msg *Message) error {
	if msg.From.Email == "" || msg.To.Email == "" {
		return fmt.Errorf("addresses are not resolved")
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.From.Email, msg.From.Name)
	m.SetAddressHeader("To", msg.To.Email, msg.To.Name)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Content)

	msg.Email = m
	return nil
}

// NewPlainTextChain is the standard chain used by the worker.
func NewPlainTextChain(fromName string, fromAddress string, recipientName string) *Chain {
	return NewChain(NewAddressStep(fromName, fromAddress, recipientName), NewPlainTextStep())
}
