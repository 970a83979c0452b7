package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-mailer/app/controller"
	"github.com/vibast-solutions/ms-go-mailer/app/metrics"
	"github.com/vibast-solutions/ms-go-mailer/app/preparer"
	"github.com/vibast-solutions/ms-go-mailer/app/queue"
	"github.com/vibast-solutions/ms-go-mailer/app/service"
	"github.com/vibast-solutions/ms-go-mailer/config"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var errStreamsEnded = errors.New("delivery streams ended unexpectedly")

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Consume queued messages",
	Long:  "Consume queued messages from RabbitMQ.",
}

// init registers consume subcommands.
func init() {
	consumeCmd.AddCommand(consumeEmailsCmd)
	rootCmd.AddCommand(consumeCmd)
}

var consumeEmailsCmd = &cobra.Command{
	Use:   "emails [consumer_name]",
	Short: "Start the email queue consumer",
	Long:  "Start the workers that read email requests from RabbitMQ and send them over SMTP.",
	Args:  cobra.MaximumNArgs(1),
	Run:   runConsumeEmails,
}

// runConsumeEmails starts the email queue consumer.
func runConsumeEmails(_ *cobra.Command, args []string) {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if len(args) > 0 {
		cfg.ConsumerName = args[0]
	}

	logger := newLogger(cfg)
	if err := consumeEmails(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Consumer error")
	}
	logger.Info("Consumer stopped")
}

func consumeEmails(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	emailProvider, closeProvider, err := buildEmailProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	opts, closeDedup, err := buildDedupOptions(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDedup()
	opts = append(opts, service.WithSendTimeout(cfg.SendTimeout))

	emailPreparer := preparer.NewPlainTextChain(cfg.FromName, cfg.FromAddress, cfg.RecipientName)
	emailService := service.NewEmailService(emailPreparer, emailProvider, logger, opts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	m.Workers.Set(float64(cfg.WorkerCount))

	conn, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	var emailController *controller.EmailController
	if cfg.HTTPAPIKey != "" {
		publishChannel, err := conn.PublishChannel()
		if err != nil {
			return err
		}
		defer publishChannel.Close()
		emailController = controller.NewEmailController(queue.NewEmailProducer(publishChannel, cfg.EmailQueue), logger)
	}

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	stopOps, err := startOpsServers(cfg, logger, reg, healthServer, emailController)
	if err != nil {
		return err
	}
	defer stopOps()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-closed; ok && amqpErr != nil {
			logger.WithError(amqpErr).Error("RabbitMQ connection closed")
		}
	}()

	dispatcher := queue.NewDispatcher(conn, emailService, queue.DispatcherConfig{
		Queue:              cfg.EmailQueue,
		ConsumerName:       cfg.ConsumerName,
		Workers:            cfg.WorkerCount,
		Prefetch:           cfg.PrefetchCount,
		NackRequeue:        cfg.NackRequeue,
		RequeueDelay:       cfg.RequeueDelay,
		DeclareQueue:       cfg.DeclareQueue,
		DeadLetterExchange: cfg.DeadLetterExchange,
	}, logger, m.OutcomeHook())

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	err = dispatcher.Run(ctx)
	healthServer.Shutdown()
	if err != nil {
		return err
	}

	if ctx.Err() == nil {
		return errStreamsEnded
	}
	return nil
}
