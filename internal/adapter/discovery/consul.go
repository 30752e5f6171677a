package discovery

import (
	"fmt"
	"net"

	"github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

type ConsulClient struct {
	client *api.Client
	logger *zap.Logger
}

type ServiceConfig struct {
	Name string
	ID   string
	Port int
	Tags []string
}

func NewConsulClient(addr string, logger *zap.Logger) (*ConsulClient, error) {
	config := api.DefaultConfig()
	config.Address = addr

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}

	if _, err := client.Agent().Self(); err != nil {
		return nil, fmt.Errorf("connect to consul: %w", err)
	}

	return &ConsulClient{client: client, logger: logger}, nil
}

// outboundIP is the address other hosts can reach this one on.
func outboundIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// Register announces the service with an HTTP health check on /health.
func (c *ConsulClient) Register(cfg ServiceConfig) error {
	host := outboundIP()

	registration := &api.AgentServiceRegistration{
		ID:      cfg.ID,
		Name:    cfg.Name,
		Port:    cfg.Port,
		Address: host,
		Tags:    cfg.Tags,
		Check: &api.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, cfg.Port),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "30s",
		},
	}

	if err := c.client.Agent().ServiceRegister(registration); err != nil {
		return fmt.Errorf("register service: %w", err)
	}

	c.logger.Info("registered with consul",
		zap.String("service", cfg.Name), zap.String("id", cfg.ID), zap.String("address", host), zap.Int("port", cfg.Port))
	return nil
}

func (c *ConsulClient) Deregister(serviceID string) error {
	if err := c.client.Agent().ServiceDeregister(serviceID); err != nil {
		return fmt.Errorf("deregister service: %w", err)
	}
	c.logger.Info("deregistered from consul", zap.String("id", serviceID))
	return nil
}

// ServiceURL returns the base URL of the first healthy instance of name.
func (c *ConsulClient) ServiceURL(name string) (string, error) {
	entries, _, err := c.client.Health().Service(name, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", name, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instances of %s", name)
	}

	svc := entries[0].Service
	address := svc.Address
	if address == "" {
		address = entries[0].Node.Address
	}
	if address == "" {
		address = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", address, svc.Port), nil
}
