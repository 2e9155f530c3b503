package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/config"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/gateway"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/fulfillment-go/internal/logging"
)

func main() {
	cfg, err := config.Load(8080)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Options{Service: "api-gateway", Env: cfg.AppEnv, Level: cfg.LogLevel})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var resolver gateway.Resolver
	if cfg.ConsulEnabled {
		consul, err := discovery.NewConsulClient(cfg.ConsulHost, cfg.ConsulPort, logger)
		if err != nil {
			logger.Warn("⚠️ Failed to connect to Consul, using K8s DNS", zap.Error(err))
		} else {
			resolver = consul
		}
	}

	gw := gateway.New(resolver, map[string]string{
		"order-service":   cfg.OrderServiceURL,
		"product-service": cfg.ProductServiceURL,
	}, logger)
	gw.Refresh(ctx)
	go gw.Watch(ctx, 10*time.Second)

	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(logger))
	gw.Register(router)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("🚀 API Gateway starting", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("❌ API Gateway stopped", zap.Error(err))
	}
}
