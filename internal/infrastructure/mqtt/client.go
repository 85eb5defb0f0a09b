package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// Logger is the logging interface used by the client.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MessageHandler handles one received message. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Client is a reconnecting MQTT client bound to one rig instance. It is
// safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	id     string
	qos    byte
	topics Topics

	connected atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	cbMu         sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// newClient builds an unconnected client.
func newClient(cfg config.MQTTConfig, instance string) *Client {
	c := &Client{
		id:            clientID(cfg, instance),
		qos:           byte(min(max(cfg.QoS, 0), maxQoS)),
		topics:        Topics{Instance: instance},
		subscriptions: make(map[string]subscription),
		logger:        noopLogger{},
	}
	opts := buildClientOptions(cfg, c.id, c.topics)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	c.client = pahomqtt.NewClient(opts)
	return c
}

// Connect connects to the broker and announces the rig as online.
func Connect(cfg config.MQTTConfig, instance string) (*Client, error) {
	c := newClient(cfg, instance)

	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	// the on-connect handler runs asynchronously
	c.connected.Store(true)
	return c, nil
}

// Topics returns the topic builder of this client's instance.
func (c *Client) Topics() Topics {
	return c.topics
}

// ClientID returns the MQTT client identifier.
func (c *Client) ClientID() string {
	return c.id
}

func (c *Client) handleConnect() {
	c.connected.Store(true)
	c.restoreSubscriptions()
	c.client.Publish(c.topics.Presence(), c.qos, true, presencePayload(c.id, true, ""))

	c.cbMu.RLock()
	cb := c.onConnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)
	c.getLogger().Warn("mqtt connection lost", "error", err)

	c.cbMu.RLock()
	cb := c.onDisconnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close announces a graceful shutdown and disconnects.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.Presence(), c.qos, true, presencePayload(c.id, false, "graceful_shutdown"))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.connected.Load() && c.client.IsConnected()
}

// SetOnConnect installs a callback run on every (re)connect.
func (c *Client) SetOnConnect(fn func()) {
	c.cbMu.Lock()
	c.onConnect = fn
	c.cbMu.Unlock()
}

// SetOnDisconnect installs a callback run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.cbMu.Lock()
	c.onDisconnect = fn
	c.cbMu.Unlock()
}

// SetLogger sets the logger for connection and handler errors.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.cbMu.Lock()
	c.logger = logger
	c.cbMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.cbMu.RLock()
	defer c.cbMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho with panic recovery.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.getLogger().Error("mqtt handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.getLogger().Warn("mqtt handler returned error", "topic", topic, "error", err)
	}
}
