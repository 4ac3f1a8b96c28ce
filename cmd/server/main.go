package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sentinelpay/backend/docs"
	"github.com/sentinelpay/backend/internal/config"
	"github.com/sentinelpay/backend/internal/database"
	"github.com/sentinelpay/backend/internal/geo"
	mW "github.com/sentinelpay/backend/internal/middleware"
	"github.com/sentinelpay/backend/internal/notify"
	"github.com/sentinelpay/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title SentinelPay Fraud Scoring API
// @version 1.0
// @description Real-time fraud scoring and verification for payment transactions
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	// Set environment variable prefix
	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("kafka.url", "KAFKA_URL")
	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("kafka.url", "localhost:9092")
	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "SentinelPay Fraud Scoring API"
	docs.SwaggerInfo.Description = "Real-time fraud scoring and verification for payment transactions"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	scoringCfg := config.LoadScoringConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	defer redisClient.Close()

	// Geocoder: MaxMind city DB for IP-shaped locations when configured,
	// static city table otherwise.
	var geocoder geo.Geocoder = geo.NewStaticGeocoder(nil)
	if scoringCfg.GeoIPCityDB != "" {
		geoIP, err := geo.NewGeoIPGeocoder(scoringCfg.GeoIPCityDB, geocoder)
		if err != nil {
			log.Printf("Failed to open GeoIP database %s, falling back to static table: %v",
				scoringCfg.GeoIPCityDB, err)
		} else {
			geocoder = geoIP
			defer geoIP.Close()
		}
	}

	publisher := notify.NewKafkaPublisher(
		viper.GetString("kafka.url"),
		[]string{notify.TopicSMS, notify.TopicFraudAlerts},
		notify.RetryConfig{},
	)
	defer publisher.Close()

	historyStore := services.NewHistoryStore(db, scoringCfg.WindowSize)
	behaviorDetector := services.NewBehaviorDetector(scoringCfg.ZThreshold, scoringCfg.AbsoluteEps)
	geoDriftDetector := services.NewGeoDriftDetector(geocoder, scoringCfg.MaxDriftKm)
	blacklistService := services.NewBlacklistService(redisClient)
	sessionStore := services.NewSessionStore(db)
	settlementService := services.NewSettlementService(redisClient, scoringCfg.SenderBIC)
	notificationService := services.NewNotificationService(db, publisher)
	authService := services.NewAuthService(db, redisClient, notificationService)
	qrService := services.NewQRService(redisClient)

	fraudService := services.NewFraudService(
		db, historyStore, behaviorDetector, geoDriftDetector,
		blacklistService, sessionStore, settlementService, notificationService)
	verificationService := services.NewVerificationService(
		db, sessionStore, authService, blacklistService,
		historyStore, settlementService, notificationService, qrService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Scoring and verification are called by the payment switch and
		// the banking app before a user session exists.
		r.Post("/fraud/check", fraudService.CheckFraud)
		r.Post("/verify", verificationService.VerifyPIN)
		r.Post("/verify/qr", verificationService.RedeemQR)
		r.Get("/verify/{id}", verificationService.GetSession)
		r.Get("/verify/{id}/qr", verificationService.SessionQR)
		r.Post("/verify/{id}/cancel", verificationService.CancelSession)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)

			r.Get("/transactions", fraudService.ListTransactions)
			r.Get("/transactions/{txId}", fraudService.GetTransaction)

			// Blacklist administration
			r.Post("/blacklist", blacklistService.AddEntry)
			r.Get("/blacklist/{kind}", blacklistService.ListEntries)
			r.Get("/blacklist/{kind}/{value}", blacklistService.GetEntry)
			r.Delete("/blacklist/{kind}/{value}", blacklistService.RemoveEntry)

			// ISO 20022 settlement endpoints
			r.Post("/settlement/convert", settlementService.ConvertToISO20022)
			r.Post("/settlement/status", settlementService.ProcessSettlement)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
