package mqtt

import (
	"time"
)

// defaultDrainInterval is used when no draining frequency is configured.
const defaultDrainInterval = 500 * time.Millisecond

// queuedMessage is one publish held back while the broker is unreachable.
type queuedMessage struct {
	seq      uint64
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// offlineQueue is a FIFO of publishes made while disconnected.
//
// It is not safe for concurrent use; Client guards it with drainMu.
type offlineQueue struct {
	items      []queuedMessage
	limit      int // -1 unbounded
	dropOldest bool
	nextSeq    uint64
	dropped    uint64
}

func newOfflineQueue(limit int, dropOldest bool) *offlineQueue {
	return &offlineQueue{limit: limit, dropOldest: dropOldest}
}

// push appends a message. A full bounded queue either evicts its oldest
// entry or rejects the new one with ErrQueueFull.
func (q *offlineQueue) push(topic string, payload []byte, qos byte, retained bool) error {
	if q.limit > 0 && len(q.items) >= q.limit {
		if !q.dropOldest {
			q.dropped++
			return ErrQueueFull
		}
		q.items = q.items[1:]
		q.dropped++
	}

	q.nextSeq++
	q.items = append(q.items, queuedMessage{
		seq:      q.nextSeq,
		topic:    topic,
		payload:  payload,
		qos:      qos,
		retained: retained,
	})
	return nil
}

// peek returns the oldest message without removing it.
func (q *offlineQueue) peek() (queuedMessage, bool) {
	if len(q.items) == 0 {
		return queuedMessage{}, false
	}
	return q.items[0], true
}

// removeHead drops the oldest message if it is still the one identified by
// seq. A drop-oldest eviction may already have removed it.
func (q *offlineQueue) removeHead(seq uint64) {
	if len(q.items) > 0 && q.items[0].seq == seq {
		q.items[0] = queuedMessage{}
		q.items = q.items[1:]
	}
}

func (q *offlineQueue) len() int {
	return len(q.items)
}

// drainInterval converts a frequency in Hz to the gap between sends.
func drainInterval(hz float64) time.Duration {
	if hz <= 0 {
		return defaultDrainInterval
	}
	return time.Duration(float64(time.Second) / hz)
}

// QueueLength returns the number of messages waiting in the offline queue.
func (c *Client) QueueLength() int {
	if c.queue == nil {
		return 0
	}
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	return c.queue.len()
}

// QueueDropped returns how many messages the offline queue has discarded.
func (c *Client) QueueDropped() uint64 {
	if c.queue == nil {
		return 0
	}
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	return c.queue.dropped
}

// startDrain begins sending queued messages if any are waiting.
func (c *Client) startDrain() {
	if c.queue == nil {
		return
	}
	c.drainMu.Lock()
	defer c.drainMu.Unlock()
	c.startDrainLocked()
}

// startDrainLocked must be called with drainMu held.
func (c *Client) startDrainLocked() {
	if c.draining || c.queue.len() == 0 {
		return
	}
	select {
	case <-c.done:
		return
	default:
	}

	c.draining = true
	c.wg.Add(1)
	go c.drain()
}

// drain sends queued messages oldest first at the configured frequency.
// It stops when the queue is empty, the link drops again, or the client
// closes. A message is removed only after the broker acknowledged it.
func (c *Client) drain() {
	defer c.wg.Done()

	ticker := time.NewTicker(drainInterval(c.opts.DrainingFrequency))
	defer ticker.Stop()

	stop := func() {
		c.drainMu.Lock()
		c.draining = false
		c.drainMu.Unlock()
	}

	for {
		select {
		case <-c.done:
			stop()
			return
		case <-ticker.C:
		}

		c.drainMu.Lock()
		msg, ok := c.queue.peek()
		if !ok {
			c.draining = false
			c.drainMu.Unlock()
			return
		}
		c.drainMu.Unlock()

		if !c.IsConnected() {
			// handleConnect restarts the drain after the next reconnect.
			stop()
			return
		}

		if err := c.publishNow(msg.topic, msg.payload, msg.qos, msg.retained); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("offline queue drain paused", "broker", c.opts.Name, "error", err)
			}
			stop()
			return
		}

		c.drainMu.Lock()
		c.queue.removeHead(msg.seq)
		c.drainMu.Unlock()
	}
}
