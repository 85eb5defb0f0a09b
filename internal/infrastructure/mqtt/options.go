package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 1000
	defaultKeepAlive         = 60 * time.Second

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12
)

// clientID returns the configured client ID, or one derived from the
// instance name.
func clientID(cfg config.MQTTConfig, instance string) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	if instance == "" {
		return "spiro"
	}
	return "spiro-" + instance
}

// brokerURL returns tcp:// or ssl:// for the configured broker.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

func buildClientOptions(cfg config.MQTTConfig, id string, topics Topics) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(id)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(max(cfg.Reconnect.InitialDelay, 1)) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(max(cfg.Reconnect.MaxDelay, 1)) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	// the broker announces an unexpected disconnect on our behalf
	opts.SetWill(topics.Presence(), string(presencePayload(id, false, "unexpected_disconnect")), 1, true)
	return opts
}

// presence is the payload of the presence topic.
type presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func presencePayload(id string, online bool, reason string) []byte {
	p := presence{
		Status:    "offline",
		ClientID:  id,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if online {
		p.Status = "online"
	}
	b, _ := json.Marshal(p) //nolint:errcheck // fixed struct of strings
	return b
}
