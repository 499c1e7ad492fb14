package discovery

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

// Registrar announces this instance to Consul so the gateway can route
// websocket upgrades and REST calls to it.
type Registrar struct {
	client *consulapi.Client
	id     string
	logger *zap.SugaredLogger
}

func NewRegistrar(addr string, logger *zap.SugaredLogger) (*Registrar, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Registrar{client: client, logger: logger}, nil
}

func registration(service, instanceID, host string, port int) *consulapi.AgentServiceRegistration {
	return &consulapi.AgentServiceRegistration{
		ID:      fmt.Sprintf("%s-%s", service, instanceID),
		Name:    service,
		Address: host,
		Port:    port,
		Tags:    []string{"chat", "websocket"},
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s:%d/health", host, port),
			Interval:                       "10s",
			Timeout:                        "2s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

func (r *Registrar) Register(service, instanceID, host string, port int) error {
	reg := registration(service, instanceID, host, port)
	if err := r.client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("consul register: %w", err)
	}
	r.id = reg.ID
	r.logger.Infow("registered with consul", "id", reg.ID, "addr", reg.Address, "port", reg.Port)
	return nil
}

func (r *Registrar) Deregister() error {
	if r.id == "" {
		return nil
	}
	if err := r.client.Agent().ServiceDeregister(r.id); err != nil {
		return fmt.Errorf("consul deregister: %w", err)
	}
	r.logger.Infow("deregistered from consul", "id", r.id)
	r.id = ""
	return nil
}
