package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
	"github.com/vibast-solutions/ms-go-mailer/app/entity"
	"github.com/vibast-solutions/ms-go-mailer/app/lock"
	"github.com/vibast-solutions/ms-go-mailer/app/preparer"
	"github.com/vibast-solutions/ms-go-mailer/app/provider"
)

// ErrCompose marks requests that could not be turned into an email. Callers
// reject the delivery on it.
var ErrCompose = errors.New("compose email")

// ErrMessageLocked means another worker holds the message id. The request was
// not sent and must be retried later.
var ErrMessageLocked = errors.New("message is locked by another worker")

const defaultLockTTL = 2 * time.Minute

// SendResult describes a request that was composed successfully. Transmission
// failures are reported here and not as an error: the request counts as
// handled either way.
type SendResult struct {
	Duplicate    bool
	TransportErr error
}

// Delivered reports whether the provider accepted the message.
func (r SendResult) Delivered() bool {
	return !r.Duplicate && r.TransportErr == nil
}

// History is the per-message-id delivery log.
type History interface {
	Record(ctx context.Context, messageID string, recipient string, subject string, status int16) error
	UpdateStatus(ctx context.Context, messageID string, status int16) error
	FindStatus(ctx context.Context, messageID string) (int16, bool, error)
}

type Option func(*EmailService)

// WithHistory skips message ids that were already delivered and records outcomes.
func WithHistory(history History) Option {
	return func(s *EmailService) { s.history = history }
}

// WithLocker keeps two workers from sending the same message id at once.
func WithLocker(locker lock.Locker, ttl time.Duration) Option {
	return func(s *EmailService) {
		s.locker = locker
		if ttl > 0 {
			s.lockTTL = ttl
		}
	}
}

// WithSendTimeout bounds a single provider call.
func WithSendTimeout(timeout time.Duration) Option {
	return func(s *EmailService) { s.sendTimeout = timeout }
}

type EmailService struct {
	preparer    preparer.EmailPreparer
	provider    provider.EmailProvider
	history     History
	locker      lock.Locker
	lockTTL     time.Duration
	sendTimeout time.Duration
	logger      logrus.FieldLogger
}

// NewEmailService builds the relay with its dependencies.
func NewEmailService(preparer preparer.EmailPreparer, provider provider.EmailProvider, logger logrus.FieldLogger, opts ...Option) *EmailService {
	s := &EmailService{
		preparer: preparer,
		provider: provider,
		lockTTL:  defaultLockTTL,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send composes the request and transmits it. A non-nil error means nothing
// was sent: the request could not be composed (ErrCompose) or its message id
// is locked (ErrMessageLocked). Only a delivered history entry marks a
// duplicate.
func (s *EmailService) Send(ctx context.Context, req dto.NotificationRequest) (SendResult, error) {
	messageID, hasID := MessageIDFromContext(ctx)
	log := s.logger.WithFields(logrus.Fields{
		"message_id": messageID,
		"recipient":  req.Email,
	})

	msg, err := s.preparer.Prepare(ctx, req.Email, req.Subject, req.Message)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrCompose, err)
	}

	if hasID && s.locker != nil {
		key := lock.MessageKey(messageID)
		err := s.locker.Acquire(ctx, key, s.lockTTL)
		switch {
		case err == nil:
			defer func() {
				if err := s.locker.Release(context.Background(), key); err != nil {
					log.WithError(err).Warn("Failed to release message lock")
				}
			}()
		case errors.Is(err, lock.ErrNotAcquired), errors.Is(err, lock.ErrAlreadyHeld):
			log.Info("Message is locked by another worker, deferring")
			return SendResult{}, fmt.Errorf("%w: %s", ErrMessageLocked, messageID)
		default:
			log.WithError(err).Warn("Message lock unavailable, sending without it")
		}
	}

	if hasID && s.history != nil {
		status, found, err := s.history.FindStatus(ctx, messageID)
		if err != nil {
			log.WithError(err).Warn("Failed to read email history")
		} else if found && status == entity.EmailStatusSuccess {
			log.Info("Message was already delivered, skipping")
			return SendResult{Duplicate: true}, nil
		}
		if err := s.history.Record(ctx, messageID, req.Email, req.Subject, entity.EmailStatusProcessing); err != nil {
			log.WithError(err).Warn("Failed to record email history")
		}
	}

	sendCtx := ctx
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}

	if err := s.provider.Send(sendCtx, msg); err != nil {
		log.WithError(err).Error("Email was not sent")
		s.updateStatus(ctx, log, messageID, entity.EmailStatusTransportFailure)
		return SendResult{TransportErr: err}, nil
	}

	s.updateStatus(ctx, log, messageID, entity.EmailStatusSuccess)
	log.Debug("Email sent")
	return SendResult{}, nil
}

func (s *EmailService) updateStatus(ctx context.Context, log logrus.FieldLogger, messageID string, status int16) {
	if messageID == "" || s.history == nil {
		return
	}
	if err := s.history.UpdateStatus(ctx, messageID, status); err != nil {
		log.WithError(err).Warn("Failed to update email history")
	}
}
