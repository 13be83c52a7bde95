package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"govee-gateway/internal/config"
	"govee-gateway/internal/decoder"
	"govee-gateway/internal/telemetry"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	publishTimeout = 5 * time.Second
	// quiesce is how long paho may flush in-flight messages on disconnect, in ms.
	quiesce = 250
	qos     = 1
)

var (
	errStopped      = errors.New("client stopped")
	errNotConnected = errors.New("mqtt client not connected")
)

// offlineStatus is the retained will left on the status topic when the
// gateway drops off without a clean disconnect.
const offlineStatus = `{"phase":"offline"}`

// Client publishes readings and the scanner status to an MQTT broker.
type Client struct {
	paho   paho.Client
	prefix string
	logger *slog.Logger

	online    atomic.Bool
	onConnect atomic.Pointer[func()]

	done     chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) (*Client, error) {
	if cfg.MQTTBroker == "" {
		return nil, errors.New("mqtt: MQTT_BROKER is empty")
	}
	c := &Client{
		prefix: cfg.MQTTTopicPrefix,
		logger: logger.With("broker", cfg.MQTTBroker, "port", cfg.MQTTPort),
		done:   make(chan struct{}),
	}
	c.paho = paho.NewClient(c.options(cfg))
	return c, nil
}

func (c *Client) options(cfg config.Config) *paho.ClientOptions {
	broker := "tcp://" + cfg.MQTTBroker + ":" + strconv.Itoa(cfg.MQTTPort)
	return paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.MQTTClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetKeepAlive(30*time.Second).
		SetPingTimeout(10*time.Second).
		SetWill(StatusTopic(cfg.MQTTTopicPrefix), offlineStatus, qos, true).
		SetOnConnectHandler(c.connected).
		SetConnectionLostHandler(c.connectionLost)
}

// OnConnect registers fn to run after every successful connect, including
// automatic reconnects. It must not block.
func (c *Client) OnConnect(fn func()) {
	c.onConnect.Store(&fn)
}

func (c *Client) connected(paho.Client) {
	c.online.Store(true)
	c.logger.Info("mqtt connected")
	if fn := c.onConnect.Load(); fn != nil && *fn != nil {
		(*fn)()
	}
}

func (c *Client) connectionLost(_ paho.Client, err error) {
	c.online.Store(false)
	c.logger.Warn("mqtt connection lost", "error", err)
}

// ReadingTopic is where readings for one device are published.
func ReadingTopic(prefix, address string) string {
	return fmt.Sprintf("%s/%s/reading", prefix, address)
}

// StatusTopic carries the retained scanner status.
func StatusTopic(prefix string) string {
	return prefix + "/scanner/status"
}

// Connect blocks until the first connection succeeds, ctx ends or the client
// is disconnected. paho keeps retrying in the background in the meantime.
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.done:
		return errStopped
	default:
	}
	if c.IsConnected() {
		return nil
	}

	token := c.paho.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return errStopped
	}
}

func (c *Client) Name() string { return "mqtt" }

// Publish sends a reading to its device topic.
func (c *Client) Publish(ctx context.Context, r decoder.Reading) error {
	topic := ReadingTopic(c.prefix, r.Address)
	if err := c.send(ctx, topic, false, telemetry.FromReading(r)); err != nil {
		return err
	}
	c.logger.Debug("published reading", "topic", topic, "addr", r.Address)
	return nil
}

// PublishStatus publishes the scanner status, retained.
func (c *Client) PublishStatus(ctx context.Context, status telemetry.ScannerStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now()
	}
	topic := StatusTopic(c.prefix)
	if err := c.send(ctx, topic, true, status); err != nil {
		return err
	}
	c.logger.Debug("published scanner status", "topic", topic, "phase", status.Phase)
	return nil
}

func (c *Client) send(ctx context.Context, topic string, retained bool, v any) error {
	if !c.IsConnected() {
		return errNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	token := c.paho.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool {
	return c.online.Load() && c.paho.IsConnected()
}

// Disconnect closes the connection. It may be called more than once; Connect
// fails with "client stopped" afterwards.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.paho.Disconnect(quiesce)
		c.online.Store(false)
		c.logger.Info("mqtt disconnected")
	})
}
