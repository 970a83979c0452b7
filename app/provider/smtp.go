package provider

import (
	"context"
	"fmt"
	"time"

	gomail "gopkg.in/mail.v2"
)

type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	SSL         bool
	Timeout     time.Duration
	PoolSize    int
	IdleTimeout time.Duration
}

type session struct {
	gomail.SendCloser
	lastUsed time.Time
}

// SMTPProvider sends mail over authenticated SMTP sessions. Sessions are
// pooled and reused; it is safe for concurrent use.
type SMTPProvider struct {
	dial        func() (gomail.SendCloser, error)
	idle        chan *session
	idleTimeout time.Duration
	now         func() time.Time
}

// NewSMTPProvider builds a pooled SMTP provider. Nothing is dialed until the
// first send.
func NewSMTPProvider(cfg SMTPConfig) *SMTPProvider {
	return newSMTPProvider(newDialer(cfg).Dial, cfg.PoolSize, cfg.IdleTimeout)
}

// newDialer keeps gomail's RetryFailure on: a pooled session the relay has
// dropped fails MAIL FROM with EOF and is redialed once before the message is
// written. Messages themselves are never resent.
func newDialer(cfg SMTPConfig) *gomail.Dialer {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	d.Timeout = cfg.Timeout
	d.RetryFailure = true
	if !cfg.SSL {
		d.StartTLSPolicy = gomail.MandatoryStartTLS
	}
	return d
}

func newSMTPProvider(dial func() (gomail.SendCloser, error), poolSize int, idleTimeout time.Duration) *SMTPProvider {
	if poolSize < 1 {
		poolSize = 1
	}
	return &SMTPProvider{
		dial:        dial,
		idle:        make(chan *session, poolSize),
		idleTimeout: idleTimeout,
		now:         time.Now,
	}
}

// Send transmits the message on a pooled session. A session that fails is
// closed and never returned to the pool.
func (p *SMTPProvider) Send(ctx context.Context, msg *gomail.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s, err := p.acquire()
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}

	if err := gomail.Send(s, msg); err != nil {
		_ = s.Close()
		return fmt.Errorf("smtp send: %w", err)
	}

	p.release(s)
	return nil
}

// Close shuts every idle session.
func (p *SMTPProvider) Close() error {
	for {
		select {
		case s := <-p.idle:
			_ = s.Close()
		default:
			return nil
		}
	}
}

func (p *SMTPProvider) acquire() (*session, error) {
	for {
		select {
		case s := <-p.idle:
			if p.idleTimeout > 0 && p.now().Sub(s.lastUsed) > p.idleTimeout {
				_ = s.Close()
				continue
			}
			return s, nil
		default:
			sc, err := p.dial()
			if err != nil {
				return nil, err
			}
			return &session{SendCloser: sc}, nil
		}
	}
}

func (p *SMTPProvider) release(s *session) {
	s.lastUsed = p.now()
	select {
	case p.idle <- s:
	default:
		_ = s.Close()
	}
}
