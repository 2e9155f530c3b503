package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/config"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/logging"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/paymentsim"
)

const serviceName = "payment-gateway"

func main() {
	cfg, err := config.Load(8090)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Service: "payment-sim", Env: cfg.AppEnv, Level: cfg.LogLevel})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "healthy", "service": serviceName})
	})
	paymentsim.NewServer(cfg.PaymentDeclineAbove, logger).RegisterRoutes(router)

	if cfg.ConsulEnabled {
		consul, err := discovery.NewConsulClient(cfg.ConsulHost, cfg.ConsulPort, logger)
		if err != nil {
			logger.Warn("⚠️ Consul unavailable, not registering", zap.Error(err))
		} else {
			id := serviceName + "-sim"
			if err := consul.Register(ctx, discovery.ServiceConfig{Name: serviceName, ID: id, Port: cfg.HTTPPort, Tags: []string{"payments"}}); err != nil {
				logger.Warn("⚠️ Failed to register with Consul", zap.Error(err))
			}
			defer func() {
				deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				consul.Deregister(deregisterCtx, id)
			}()
		}
	}

	go func() {
		logger.Info("🚀 Payment simulator starting",
			zap.String("addr", cfg.Addr()),
			zap.Int64("decline_above", cfg.PaymentDeclineAbove),
		)
		if err := router.Run(cfg.Addr()); err != nil {
			logger.Error("❌ Payment simulator stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")
}
