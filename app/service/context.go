package service

import "context"

type messageIDKey struct{}

// WithMessageID stores the broker message ID in the context.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, messageID)
}

// MessageIDFromContext extracts the broker message ID from the context.
func MessageIDFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(messageIDKey{})
	if value == nil {
		return "", false
	}
	messageID, ok := value.(string)
	return messageID, ok && messageID != ""
}
