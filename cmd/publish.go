package cmd

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/dto"
	"github.com/vibast-solutions/ms-go-mailer/app/queue"
	"github.com/vibast-solutions/ms-go-mailer/config"
)

const publishTimeout = 10 * time.Second

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish messages to a queue",
}

// init registers publish subcommands.
func init() {
	publishCmd.AddCommand(publishEmailCmd)
	rootCmd.AddCommand(publishCmd)
}

var publishEmailCmd = &cobra.Command{
	Use:   "email <recipient> <subject> <message>",
	Short: "Enqueue an email request",
	Long:  "Publish a single email request to the email queue, for example as a smoke test.",
	Args:  cobra.ExactArgs(3),
	Run:   runPublishEmail,
}

// runPublishEmail publishes one request and prints its message id.
func runPublishEmail(cmd *cobra.Command, args []string) {
	cfg, err := config.LoadBroker()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := newLogger(cfg)

	conn, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to RabbitMQ")
	}
	defer conn.Close()

	ch, err := conn.PublishChannel()
	if err != nil {
		logger.WithError(err).Fatal("Failed to open channel")
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	producer := queue.NewEmailProducer(ch, cfg.EmailQueue)
	messageID, err := producer.Publish(ctx, dto.NotificationRequest{
		Email:   args[0],
		Subject: args[1],
		Message: args[2],
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to publish email request")
	}

	logger.WithFields(logrus.Fields{"message_id": messageID, "queue": cfg.EmailQueue}).Info("Email request published")
	cmd.Println(messageID)
}
