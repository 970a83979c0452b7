package controller

import (
	"context"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
)

const maxRequestBody = 1 << 20

// Publisher enqueues a request and returns its message id.
type Publisher interface {
	Publish(ctx context.Context, req dto.NotificationRequest) (string, error)
}

type EmailController struct {
	producer Publisher
	logger   logrus.FieldLogger
}

// NewEmailController constructs the HTTP email controller.
func NewEmailController(producer Publisher, logger logrus.FieldLogger) *EmailController {
	return &EmailController{producer: producer, logger: logger}
}

// Send validates a request with the same rules as the consumer and enqueues it.
func (c *EmailController) Send(ctx echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxRequestBody))
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	req, err := dto.DecodeNotification(body)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	messageID, err := c.producer.Publish(ctx.Request().Context(), req)
	if err != nil {
		c.logger.WithError(err).WithField("recipient", req.Email).Error("Failed to queue email")
		return ctx.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to queue email"})
	}

	return ctx.JSON(http.StatusAccepted, map[string]string{
		"message":    "email accepted",
		"message_id": messageID,
	})
}
