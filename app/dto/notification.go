package dto

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidJSON  = errors.New("invalid notification payload")
)

// NotificationRequest is the payload producers put on the email queue.
type NotificationRequest struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// wireNotification detects absent and null fields, which plain strings would hide.
type wireNotification struct {
	Email   *string `json:"email"`
	Subject *string `json:"subject"`
	Message *string `json:"message"`
}

// DecodeNotification parses a delivery body. Each ill-formed UTF-8 sequence is
// replaced with one U+FFFD before parsing; unknown fields are ignored.
func DecodeNotification(payload []byte) (NotificationRequest, error) {
	var wire wireNotification
	if err := json.Unmarshal(lossyUTF8(payload), &wire); err != nil {
		return NotificationRequest{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	switch {
	case wire.Email == nil:
		return NotificationRequest{}, fmt.Errorf("%w: email", ErrMissingField)
	case wire.Subject == nil:
		return NotificationRequest{}, fmt.Errorf("%w: subject", ErrMissingField)
	case wire.Message == nil:
		return NotificationRequest{}, fmt.Errorf("%w: message", ErrMissingField)
	}

	return NotificationRequest{
		Email:   *wire.Email,
		Subject: *wire.Subject,
		Message: *wire.Message,
	}, nil
}

// Encode serializes the request in the queue wire format.
func (r NotificationRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}

func lossyUTF8(b []byte) []byte {
	if utf8.Valid(b) {
		return b
	}
	out := make([]byte, 0, len(b)+8)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			out = append(out, b[:size]...)
			b = b[size:]
			continue
		}
		out = append(out, "\uFFFD"...)
		b = b[maximalSubpart(b):]
	}
	return out
}

// maximalSubpart is the length of the ill-formed sequence starting at b[0]: a
// lead byte plus the continuation bytes that could still have completed it.
func maximalSubpart(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var need int
	switch lead := b[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		need = 1
	case lead == 0xE0:
		need, lo = 2, 0xA0
	case lead == 0xED:
		need, hi = 2, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		need = 2
	case lead == 0xF0:
		need, lo = 3, 0x90
	case lead >= 0xF1 && lead <= 0xF3:
		need = 3
	case lead == 0xF4:
		need, hi = 3, 0x8F
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(b) {
		c := b[n]
		if n == 1 && (c < lo || c > hi) {
			break
		}
		if n > 1 && (c < 0x80 || c > 0xBF) {
			break
		}
		n++
	}
	return n
}
