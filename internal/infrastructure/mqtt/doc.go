// Package mqtt connects spiro to an MQTT broker for remote control and
// status fan-out.
//
// Every rig publishes under its own instance prefix:
//
//	spiro/<instance>/status                 online/offline presence (retained, LWT)
//	spiro/<instance>/experiment/status      experiment state (retained)
//	spiro/<instance>/experiment/capture     one message per capture attempt
//	spiro/<instance>/experiment/command     start/stop commands (subscribed)
//
// The client reconnects on its own and restores subscriptions after each
// reconnect. Handlers run on paho goroutines; a panicking handler is
// recovered and logged.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Instance.Name)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.ExperimentCommand(), 1, worker.HandleCommand)
package mqtt
