// Package gateway is the edge reverse proxy in front of the order and
// product services.
package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Resolver looks up the base URL of a healthy service instance.
type Resolver interface {
	ServiceURL(ctx context.Context, serviceName string) (string, error)
}

type Gateway struct {
	resolver  Resolver
	fallbacks map[string]string
	logger    *zap.Logger
	client    *http.Client

	mutex    sync.RWMutex
	proxies  map[string]*httputil.ReverseProxy
	services map[string]string
}

// New routes to the services named in fallbacks. A nil resolver, or a failed
// lookup, uses the fallback URL (e.g. the K8s DNS name).
func New(resolver Resolver, fallbacks map[string]string, logger *zap.Logger) *Gateway {
	return &Gateway{
		resolver:  resolver,
		fallbacks: fallbacks,
		logger:    logger,
		client:    &http.Client{Timeout: 2 * time.Second},
		proxies:   make(map[string]*httputil.ReverseProxy),
		services:  make(map[string]string),
	}
}

// Refresh re-resolves every known service.
func (g *Gateway) Refresh(ctx context.Context) {
	for svc, fallback := range g.fallbacks {
		target := fallback
		if g.resolver != nil {
			resolved, err := g.resolver.ServiceURL(ctx, svc)
			if err != nil {
				g.logger.Warn("⚠️ Service not found, using fallback", zap.String("service", svc), zap.Error(err))
			} else {
				target = resolved
			}
		}
		g.updateProxy(svc, target)
	}
}

// Watch refreshes routes every interval until ctx is cancelled.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Refresh(ctx)
		}
	}
}

func (g *Gateway) updateProxy(serviceName, serviceURL string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if g.services[serviceName] == serviceURL {
		return
	}

	target, err := url.Parse(serviceURL)
	if err != nil || target.Host == "" {
		g.logger.Error("❌ Invalid URL", zap.String("service", serviceName), zap.String("url", serviceURL), zap.Error(err))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.logger.Error("❌ Proxy error", zap.String("service", serviceName), zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, `{"error": "service unavailable"}`)
	}

	g.proxies[serviceName] = proxy
	g.services[serviceName] = serviceURL
	g.logger.Info("✅ Updated route", zap.String("service", serviceName), zap.String("url", serviceURL))
}

func (g *Gateway) getProxy(serviceName string) *httputil.ReverseProxy {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.proxies[serviceName]
}

// Proxy forwards the request, headers included, to serviceName.
func (g *Gateway) Proxy(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		proxy := g.getProxy(serviceName)
		if proxy == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": serviceName + " unavailable"})
			return
		}
		g.logger.Debug("🔀 Routing",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("service", serviceName),
		)
		proxy.ServeHTTP(c.Writer, c.Request)
	}
}

func (g *Gateway) HealthCheck(c *gin.Context) {
	g.mutex.RLock()
	targets := make(map[string]string, len(g.services))
	for name, u := range g.services {
		targets[name] = u
	}
	g.mutex.RUnlock()

	statuses := make(map[string]string, len(targets))
	allHealthy := true
	for name, u := range targets {
		if g.probe(c.Request.Context(), u) {
			statuses[name] = "healthy"
		} else {
			statuses[name] = "unhealthy"
			allHealthy = false
		}
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"service":  "api-gateway",
		"services": statuses,
	})
}

func (g *Gateway) probe(ctx context.Context, base string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (g *Gateway) ListServices(c *gin.Context) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	names := make([]string, 0, len(g.services))
	for name := range g.services {
		names = append(names, name)
	}
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"services": g.services, "names": names})
}

// Register mounts the edge routes.
func (g *Gateway) Register(r gin.IRouter) {
	r.GET("/health", g.HealthCheck)
	r.GET("/services", g.ListServices)

	r.Any("/products", g.Proxy("product-service"))
	r.Any("/products/*path", g.Proxy("product-service"))
	r.Any("/orders", g.Proxy("order-service"))
	r.Any("/orders/*path", g.Proxy("order-service"))
}
