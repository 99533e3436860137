// Package mqtt provides the MQTT broker connection behind the distributed
// Topic Bus.
//
// When bus.driver is "mqtt", every edgewatch instance connects to a shared
// broker. A session subscribing to "device:42" subscribes this client to
// edgewatch/bus/device/42, so a command published by any instance reaches
// every session for that device, wherever it is connected.
//
// # Features
//
//   - Auto-reconnect with bounded backoff
//   - Subscriptions tracked and restored after reconnect
//   - Retained online/offline status with Last Will
//   - Handler panic recovery
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Bus.TopicPrefix)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().Bus("device:42")
//	err = client.Subscribe(topic, client.QoS(), func(topic string, payload []byte) error {
//	    return nil
//	})
package mqtt
