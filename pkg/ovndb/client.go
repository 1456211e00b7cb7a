// Package ovndb provides the OVN Northbound port-record backend.
//
// In an OVN deployment every bound port is a Logical_Switch_Port. The binder
// stores the binding in the port's external_ids under "piesss:binding" and
// pins the port to the chosen host with options:requested-chassis. After a
// restart the ledger is reconciled from those external_ids.
//
// Reference: OVN-Kubernetes pkg/libovsdb/
package ovndb

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ovn-org/libovsdb/client"
	"k8s.io/klog/v2"

	"github.com/jiayi-1994/piesss-binder/pkg/config"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
)

// DefaultTxnTimeout bounds every Northbound transaction
const DefaultTxnTimeout = 15 * time.Second

// ClientConfig contains Northbound connection settings
type ClientConfig struct {
	// NBDBAddress is one or more comma separated tcp:, ssl: or unix: endpoints
	NBDBAddress string

	// SSL is the TLS configuration; nil or disabled means plain connections
	SSL *config.SSLConfig

	// ConnectTimeout bounds the initial connection
	ConnectTimeout time.Duration

	// ReconnectInterval is the first reconnect delay
	ReconnectInterval time.Duration

	// MaxReconnectInterval caps the exponential reconnect delay
	MaxReconnectInterval time.Duration

	// TxnTimeout bounds each transaction
	TxnTimeout time.Duration
}

// ClientConfigFrom converts the OVN section of the configuration.
func ClientConfigFrom(cfg config.OVNConfig) *ClientConfig {
	ssl := cfg.SSL
	return &ClientConfig{
		NBDBAddress:          cfg.NBDBAddress,
		SSL:                  &ssl,
		ConnectTimeout:       cfg.ConnectTimeout,
		ReconnectInterval:    cfg.ReconnectInterval,
		MaxReconnectInterval: cfg.MaxReconnectInterval,
	}
}

// Client wraps a libovsdb client for the Northbound database.
type Client struct {
	config *ClientConfig

	mu sync.RWMutex
	nb client.Client
}

// NewClient validates the configuration and creates an unconnected Client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if len(endpoints(cfg.NBDBAddress)) == 0 {
		return nil, &ValidationError{Field: "NBDBAddress", Message: "at least one endpoint is required"}
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = 60 * time.Second
	}
	if cfg.TxnTimeout == 0 {
		cfg.TxnTimeout = DefaultTxnTimeout
	}
	return &Client{config: cfg}, nil
}

// Connect connects to the Northbound database and starts monitoring the
// tables in NBDBModel so reads are served from the local cache.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.nb != nil && c.nb.Connected() {
		return nil
	}

	dbModel, err := NBDBModel()
	if err != nil {
		return fmt.Errorf("failed to build NB model: %w", err)
	}

	opts, err := c.clientOptions()
	if err != nil {
		return err
	}

	nb, err := client.NewOVSDBClient(dbModel, opts...)
	if err != nil {
		return fmt.Errorf("failed to create NB client: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	klog.Infof("Connecting to OVN NB database at %s", c.config.NBDBAddress)
	if err := nb.Connect(connectCtx); err != nil {
		metrics.SetOVNDBConnectionStatus(false)
		return &ConnectionError{Address: c.config.NBDBAddress, Err: err}
	}
	if _, err := nb.MonitorAll(connectCtx); err != nil {
		nb.Close()
		metrics.SetOVNDBConnectionStatus(false)
		return &ConnectionError{Address: c.config.NBDBAddress, Err: fmt.Errorf("monitor failed: %w", err)}
	}

	c.nb = nb
	metrics.SetOVNDBConnectionStatus(true)
	klog.Infof("Connected to OVN NB database")
	return nil
}

func (c *Client) clientOptions() ([]client.Option, error) {
	var opts []client.Option
	for _, ep := range endpoints(c.config.NBDBAddress) {
		opts = append(opts, client.WithEndpoint(ep))
	}

	if c.config.SSL != nil && c.config.SSL.Enabled {
		tlsConfig, err := loadTLSConfig(c.config.SSL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithTLSConfig(tlsConfig))
	}

	opts = append(opts, client.WithReconnect(c.config.ConnectTimeout, reconnectBackoff(c.config)))
	return opts, nil
}

// reconnectBackoff retries forever with exponential delays.
func reconnectBackoff(cfg *ClientConfig) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectInterval
	b.MaxInterval = cfg.MaxReconnectInterval
	b.MaxElapsedTime = 0
	return b
}

func loadTLSConfig(ssl *config.SSLConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(ssl.ClientCert, ssl.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	ca, err := os.ReadFile(ssl.CACert)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("no certificates found in %s", ssl.CACert)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// endpoints splits a comma separated address list.
func endpoints(address string) []string {
	var out []string
	for _, ep := range strings.Split(address, ",") {
		if ep = strings.TrimSpace(ep); ep != "" {
			out = append(out, ep)
		}
	}
	return out
}

// NBClient returns the underlying libovsdb client, or nil before Connect.
func (c *Client) NBClient() client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nb
}

// Connected reports whether the Northbound connection is up.
func (c *Client) Connected() bool {
	nb := c.NBClient()
	connected := nb != nil && nb.Connected()
	metrics.SetOVNDBConnectionStatus(connected)
	return connected
}

// GetTxnTimeout returns the transaction timeout
func (c *Client) GetTxnTimeout() time.Duration {
	return c.config.TxnTimeout
}

// Close closes the connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nb != nil {
		c.nb.Close()
		c.nb = nil
	}
	metrics.SetOVNDBConnectionStatus(false)
}
