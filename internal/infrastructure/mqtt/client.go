package mqtt

import (
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/graystone-av/dsp-core/internal/infrastructure/config"
	"github.com/graystone-av/dsp-core/internal/infrastructure/logging"
)

// Sentinel errors for MQTT operations.
var (
	// ErrNotConnected indicates the client is not connected to the broker.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrPublishFailed indicates a message could not be published.
	ErrPublishFailed = errors.New("mqtt: publish failed")
)

// Connection timing constants.
const (
	connectTimeout      = 10 * time.Second
	publishTimeout      = 5 * time.Second
	disconnectQuiesceMs = 250
)

// Client publishes dsp-core events to the venue MQTT broker.
// The broker is optional infrastructure: publishing is fire-and-forget from
// the caller's perspective and the paho client handles reconnection.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	logger *logging.Logger
}

// New creates and connects an MQTT client.
func New(cfg config.MQTTConfig, logger *logging.Logger) (*Client, error) {
	if logger == nil {
		logger = logging.Default()
	}
	log := logger.With("component", "mqtt")

	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOrderMatters(false)

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		log.Info("mqtt connected", "broker", cfg.Broker.Host)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "error", err)
	})

	c := &Client{
		client: pahomqtt.NewClient(opts),
		cfg:    cfg,
		logger: log,
	}

	token := c.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: connect timed out", ErrNotConnected)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return c, nil
}

// Close disconnects from the broker, allowing in-flight messages to drain.
func (c *Client) Close() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(disconnectQuiesceMs)
	}
}

// IsConnected reports whether the client currently has a broker connection.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}
