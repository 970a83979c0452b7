package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-mailer/app/controller"
	"github.com/vibast-solutions/ms-go-mailer/config"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const opsShutdownTimeout = 10 * time.Second

// setupHTTPServer configures the Echo server exposing health and metrics. The
// enqueue route exists only with a controller and an API key.
func setupHTTPServer(logger logrus.FieldLogger, gatherer prometheus.Gatherer, healthServer *health.Server, emailController *controller.EmailController, apiKey string) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod: true,
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			logger.WithFields(logrus.Fields{
				"method": v.Method,
				"uri":    v.URI,
				"status": v.Status,
			}).Debug("HTTP request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		resp, err := healthServer.Check(c.Request().Context(), &healthpb.HealthCheckRequest{})
		if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if emailController != nil && apiKey != "" {
		email := e.Group("/email", apiKeyAuth(apiKey))
		email.POST("/send", emailController.Send)
	}

	return e
}

// apiKeyAuth answers 401 to requests without the expected X-API-Key header.
func apiKeyAuth(apiKey string) echo.MiddlewareFunc {
	return echomiddleware.KeyAuthWithConfig(echomiddleware.KeyAuthConfig{
		KeyLookup: "header:X-API-Key",
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1, nil
		},
		ErrorHandler: func(_ error, c echo.Context) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		},
	})
}

// setupGRPCServer builds a gRPC server carrying only the health service.
func setupGRPCServer(healthServer *health.Server) *grpc.Server {
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	return grpcServer
}

func portEnabled(port string) bool {
	return port != "" && !strings.EqualFold(port, "off")
}

// startOpsServers starts the HTTP and gRPC listeners that are enabled and
// returns a func stopping them.
func startOpsServers(cfg *config.Config, logger logrus.FieldLogger, gatherer prometheus.Gatherer, healthServer *health.Server, emailController *controller.EmailController) (func(), error) {
	var stops []func(ctx context.Context)

	if portEnabled(cfg.GRPCPort) {
		lis, err := net.Listen("tcp", net.JoinHostPort(cfg.GRPCHost, cfg.GRPCPort))
		if err != nil {
			return nil, err
		}
		grpcServer := setupGRPCServer(healthServer)
		go func() {
			logger.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
			if err := grpcServer.Serve(lis); err != nil {
				logger.WithError(err).Error("gRPC server error")
			}
		}()
		stops = append(stops, func(context.Context) { grpcServer.GracefulStop() })
	}

	if portEnabled(cfg.HTTPPort) {
		e := setupHTTPServer(logger, gatherer, healthServer, emailController, cfg.HTTPAPIKey)
		httpAddr := net.JoinHostPort(cfg.HTTPHost, cfg.HTTPPort)
		go func() {
			logger.WithField("addr", httpAddr).Info("Starting HTTP server")
			if err := e.Start(httpAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP server error")
			}
		}()
		stops = append(stops, func(ctx context.Context) {
			if err := e.Shutdown(ctx); err != nil {
				logger.WithError(err).Warn("HTTP shutdown error")
			}
		})
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		for _, stop := range stops {
			stop(ctx)
		}
	}, nil
}
