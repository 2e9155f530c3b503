package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// ErrNoHealthyInstance is returned when a service has no passing instance.
var ErrNoHealthyInstance = errors.New("no healthy instance")

type ConsulClient struct {
	client *api.Client
	logger *zap.Logger
}

type ServiceConfig struct {
	Name string
	ID   string
	// Address defaults to the preferred outbound IP of this machine.
	Address string
	Port    int
	Tags    []string
}

func NewConsulClient(host string, port int, logger *zap.Logger) (*ConsulClient, error) {
	config := api.DefaultConfig()
	config.Address = net.JoinHostPort(host, strconv.Itoa(port))

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Consul client: %w", err)
	}

	// Test connection
	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("failed to connect to Consul: %w", err)
	}

	logger.Info("✅ Connected to Consul", zap.String("address", config.Address))

	return &ConsulClient{client: client, logger: logger}, nil
}

// getOutboundIP gets the preferred outbound IP of this machine
func getOutboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// Registration builds the agent registration with an HTTP health check on
// /health.
func Registration(cfg ServiceConfig) *api.AgentServiceRegistration {
	address := cfg.Address
	if address == "" {
		address = getOutboundIP()
	}
	return &api.AgentServiceRegistration{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Port:    cfg.Port,
		Address: address,
		Tags:    cfg.Tags,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s/health", net.JoinHostPort(address, strconv.Itoa(cfg.Port))),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}
}

// Register registers a service with Consul
func (c *ConsulClient) Register(ctx context.Context, cfg ServiceConfig) error {
	reg := Registration(cfg)
	opts := api.ServiceRegisterOpts{}.WithContext(ctx)
	if err := c.client.Agent().ServiceRegisterOpts(reg, opts); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	c.logger.Info("✅ Registered service",
		zap.String("name", cfg.Name),
		zap.String("id", cfg.ID),
		zap.String("address", reg.Address),
		zap.Int("port", cfg.Port),
	)
	return nil
}

// Deregister removes a service from Consul
func (c *ConsulClient) Deregister(ctx context.Context, serviceID string) error {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	if err := c.client.Agent().ServiceDeregisterOpts(serviceID, opts); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}

	c.logger.Info("✅ Deregistered service", zap.String("id", serviceID))
	return nil
}

// ServiceURL returns the base URL of the first healthy instance of a service.
func (c *ConsulClient) ServiceURL(ctx context.Context, serviceName string) (string, error) {
	opts := (&api.QueryOptions{}).WithContext(ctx)
	services, _, err := c.client.Health().Service(serviceName, "", true, opts)
	if err != nil {
		return "", fmt.Errorf("failed to get service %s: %w", serviceName, err)
	}
	if len(services) == 0 {
		return "", fmt.Errorf("%s: %w", serviceName, ErrNoHealthyInstance)
	}

	return instanceURL(services[0]), nil
}

func instanceURL(entry *api.ServiceEntry) string {
	address := entry.Service.Address
	if address == "" {
		address = entry.Node.Address
	}
	if address == "" {
		address = "localhost"
	}
	return "http://" + net.JoinHostPort(address, strconv.Itoa(entry.Service.Port))
}
