package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/railconnect/booking-backend/internal/config"
	"github.com/railconnect/booking-backend/internal/database"
	"github.com/railconnect/booking-backend/internal/handlers"
	"github.com/railconnect/booking-backend/internal/middleware"
	"github.com/railconnect/booking-backend/internal/monitoring"
	"github.com/railconnect/booking-backend/internal/services"
	"github.com/railconnect/booking-backend/pkg/email"
	"github.com/railconnect/booking-backend/pkg/jwt"
	"github.com/railconnect/booking-backend/pkg/payment"
	"github.com/railconnect/booking-backend/pkg/sms"
	"github.com/sirupsen/logrus"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting RailConnect Booking Backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		gin.SetMode(gin.DebugMode)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// Canonical store
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(startupCtx, cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.WithField("driver", cfg.Database.Driver).Info("Database connection established")

	// Mirror
	logger.Info("Connecting to Redis...")
	redisClient, err := database.NewRedisClient(startupCtx, cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connection established")

	logger.Info("Initializing services...")

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	bookingRepository := database.NewBookingRepository(db)
	paymentAuditRepository := database.NewPaymentAuditRepository(db, logger)
	mirrorRepository := database.NewBookingMirrorRepository(redisClient, cfg.Redis.KeyPrefix, cfg.Redis.SessionTTL)

	var gateway payment.Gateway
	if cfg.Payment.Mode == "live" {
		gateway = payment.NewHTTPGateway(cfg.Payment.GatewayURL, cfg.Payment.APIKey, cfg.Payment.Currency, logger)
	} else {
		logger.Warn("Payment gateway in sandbox mode (no real charges)")
		gateway = payment.NewSandboxGateway()
	}
	logger.WithField("gateway", gateway.GetName()).Info("Payment gateway initialized")

	var channels []services.Channel

	if cfg.SMS.Enabled {
		var smsGateway sms.Gateway
		if cfg.SMS.Method == "url" {
			logger.Info("Using Dialog URL method (GET request with esmsqk)")
			smsGateway = sms.NewDialogURLGateway(cfg.SMS.APIURL, cfg.SMS.ESMSQK, cfg.SMS.Mask)
		} else {
			logger.Info("Using Dialog API v2 method (POST with authentication)")
			smsGateway = sms.NewDialogGateway(sms.DialogConfig{
				APIURL:   cfg.SMS.APIURL,
				Username: cfg.SMS.Username,
				Password: cfg.SMS.Password,
				Mask:     cfg.SMS.Mask,
			})
		}
		channels = append(channels, services.NewSMSChannel(smsGateway))
	}

	if cfg.Email.Enabled {
		mailer := email.NewSMTPMailer(email.SMTPConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
			FromName: cfg.Email.FromName,
		})
		channels = append(channels, services.NewEmailChannel(mailer))
	}

	if cfg.Broker.Enabled {
		publisher, err := services.NewEventPublisher(cfg.Broker.URL, cfg.Broker.Queue, logger)
		if err != nil {
			// the broker is a notification channel; bookings still work without it
			logger.WithError(err).Error("Failed to connect to message broker, broker notifications disabled")
		} else {
			defer publisher.Close()
			channels = append(channels, services.NewBrokerChannel(publisher, cfg.Broker.Queue))
		}
	}

	if cfg.Realtime.Enabled {
		publisher := services.NewPubNubPublisher(
			cfg.Realtime.PublishKey,
			cfg.Realtime.SubscribeKey,
			cfg.Realtime.SecretKey,
			cfg.Realtime.UserID,
		)
		channels = append(channels, services.NewRealtimeChannel(publisher))
	}

	for _, ch := range channels {
		logger.WithField("channel", ch.Name()).Info("Notification channel enabled")
	}

	notificationService := services.NewNotificationService(cfg.Booking.NotifyTimeout, metrics, logger, channels...)

	orchestrator := services.NewBookingOrchestratorService(
		bookingRepository,
		mirrorRepository,
		gateway,
		notificationService,
		paymentAuditRepository,
		metrics,
		services.BookingOrchestratorConfig{
			PaymentTimeout:         cfg.Booking.PaymentTimeout,
			TransactionTimeout:     cfg.Booking.TransactionTimeout,
			MirrorTimeout:          cfg.Booking.MirrorTimeout,
			AuditTimeout:           cfg.Booking.AuditTimeout,
			DeferPayment:           cfg.Booking.DeferPayment,
			CodeGenerationAttempts: cfg.Booking.CodeGenerationAttempts,
		},
		logger,
	)

	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	bookingHandler := handlers.NewBookingOrchestratorHandler(orchestrator, logger)

	logger.Info("Services initialized")

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthCheckHandler(db, mirrorRepository))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwtService, logger))
	bookingHandler.RegisterRoutes(v1)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// in-flight bookings get their full transaction budget to finish
	shutdownTimeout := cfg.Booking.TransactionTimeout + 5*time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthCheckHandler reports canonical store and mirror reachability
func healthCheckHandler(db database.DB, mirror pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"mirror":    "healthy",
			"version":   version,
			"timestamp": time.Now().Unix(),
		}

		if err := db.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
			body["database"] = "unhealthy"
		}
		// reads are served by the mirror, writes still work without it
		if err := mirror.Ping(ctx); err != nil {
			body["mirror"] = "unhealthy"
			if status == http.StatusOK {
				body["status"] = "degraded"
			}
		}

		c.JSON(status, body)
	}
}
