package mqtt

import (
	"fmt"
)

// Maximum payload size for MQTT messages (128KB, the AWS IoT Core limit).
const maxPayloadSize = 128 << 10

// Publish sends a message to the specified MQTT topic.
//
// With an offline queue configured, a publish made while disconnected (or
// while earlier queued messages are still draining) is appended to the
// queue and nil is returned; the message goes out after reconnect in the
// order it was published. Without a queue, ErrNotConnected is returned.
//
// QoS Levels:
//   - 0: At most once (fire and forget)
//   - 1: At least once (guaranteed delivery, may duplicate)
//   - 2: Exactly once (guaranteed, no duplicates, higher overhead)
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if c.queue != nil {
		c.drainMu.Lock()
		connected := c.IsConnected()
		if !connected || c.draining || c.queue.len() > 0 {
			err := c.queue.push(topic, payload, qos, retained)
			if connected {
				c.startDrainLocked()
			}
			c.drainMu.Unlock()
			return err
		}
		c.drainMu.Unlock()
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return c.publishNow(topic, payload, qos, retained)
}

// publishNow hands the message to paho and waits for the acknowledgment
// up to the operation timeout.
func (c *Client) publishNow(topic string, payload []byte, qos byte, retained bool) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.opts.OperationTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, c.opts.OperationTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishDefault publishes with the broker's configured QoS, not retained.
func (c *Client) PublishDefault(topic string, payload []byte) error {
	return c.Publish(topic, payload, c.opts.QoS, false)
}

// QoS returns the configured default QoS for this broker.
func (c *Client) QoS() byte {
	return c.opts.QoS
}
