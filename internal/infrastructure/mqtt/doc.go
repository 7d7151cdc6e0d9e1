// Package mqtt provides MQTT client connectivity for publishing parsed
// KNX project inventories.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Last Will and Testament (LWT) for offline detection
//   - The knxproj topic hierarchy (see Topics)
//
// # Security Considerations
//
//   - TLS should be enabled for brokers outside the local host (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Project passwords are never published
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().ProjectInfo("P-0123")
//	err = client.PublishRetained(topic, payload)
package mqtt
