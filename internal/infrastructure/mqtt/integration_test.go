//go:build integration

package mqtt

import (
	"testing"
	"time"

	"github.com/nicolatrozzi/spiro/internal/infrastructure/config"
)

// Requires a broker on localhost:1883.
func TestIntegration_PublishSubscribe(t *testing.T) {
	cfg := config.MQTTConfig{
		Broker:    config.MQTTBrokerConfig{Host: "localhost", Port: 1883},
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 5},
	}
	c, err := Connect(cfg, "integration")
	if err != nil {
		t.Skipf("no broker: %v", err)
	}
	defer c.Close()

	got := make(chan []byte, 1)
	topic := c.Topics().ExperimentCommand()
	if err := c.Subscribe(topic, 1, func(_ string, p []byte) error {
		got <- p
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !c.HasSubscription(topic) {
		t.Fatalf("subscription not tracked")
	}

	if err := c.PublishJSON(topic, map[string]string{"command": "stop"}, false); err != nil {
		t.Fatalf("PublishJSON() error = %v", err)
	}

	select {
	case p := <-got:
		if string(p) != `{"command":"stop"}` {
			t.Errorf("payload = %s", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("message not received")
	}

	if err := c.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d", c.SubscriptionCount())
	}
}
