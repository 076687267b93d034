// Package mqtt provides the cloud broker connections for Gray Logic Edge.
//
// One Client wraps one paho connection. The edge process opens two:
//
//   - Broker A, AWS IoT Core: mutual TLS with the device certificate, QoS 1,
//     and an in-memory offline queue. Publishes made while the link is down
//     are buffered (unbounded by default) and drained oldest first at the
//     configured frequency once paho has reconnected.
//   - Broker B, ThingsBoard: access-token authentication, QoS 1 without an
//     offline queue. Publishing while disconnected returns ErrNotConnected.
//     The RPC request subscription lives on this connection.
//
// The initial connection is retried with exponential backoff; later
// connection losses are handled by paho's auto-reconnect, after which the
// tracked subscriptions are restored.
//
// # Usage
//
//	opts, err := mqtt.AWSOptions(cfg.Brokers.AWS)
//	if err != nil {
//	    return err
//	}
//	aws, err := mqtt.Connect(ctx, opts, logger)
//	if err != nil {
//	    return err
//	}
//	defer aws.Close()
//
//	aws.Publish("champlain/sensor/69/data", []byte(`{"moisture":120}`), 1, false)
package mqtt
