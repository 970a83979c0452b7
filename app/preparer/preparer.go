package preparer

import (
	"context"
	"fmt"

	gomail "gopkg.in/mail.v2"
)

type EmailPreparer interface {
	Prepare(ctx context.Context, recipient string, subject string, content string) (*gomail.Message, error)
}

// Address is a display name plus mailbox, as it ends up in a header.
type Address struct {
	Name  string
	Email string
}

type Message struct {
	Recipient string
	Subject   string
	Content   string

	From  Address
	To    Address
	Email *gomail.Message
}

type Step interface {
	Prepare(ctx context.Context, msg *Message) error
}

type Chain struct {
	steps []Step
}

// NewChain builds an email preparer chain from steps.
func NewChain(steps ...Step) *Chain {
	return &Chain{steps: steps}
}

// Prepare runs all preparer steps and returns the composed message.
func (c *Chain) Prepare(ctx context.Context, recipient string, subject string, content string) (*gomail.Message, error) {
	msg := &Message{
		Recipient: recipient,
		Subject:   subject,
		Content:   content,
	}

	for _, step := range c.steps {
		if err := step.Prepare(ctx, msg); err != nil {
			return nil, err
		}
	}

	if msg.Email == nil {
		return nil, fmt.Errorf("prepared message is empty")
	}

	return msg.Email, nil
}
