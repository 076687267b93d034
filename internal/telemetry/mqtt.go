package telemetry

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/mqtt"
)

// Publisher is the broker connection surface a target needs. It is
// satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Router picks the topic for an event. ok is false when the event is not
// for this broker.
type Router func(ev Event) (topic string, ok bool)

// MQTTTarget publishes events to one broker.
type MQTTTarget struct {
	name   string
	client Publisher
	qos    byte
	route  Router
}

// NewMQTTTarget creates a broker target.
func NewMQTTTarget(name string, client Publisher, qos byte, route Router) *MQTTTarget {
	return &MQTTTarget{name: name, client: client, qos: qos, route: route}
}

// NewAWSTarget routes readings and transitions of a loop to its fixed
// topic, e.g. champlain/sensor/69/data for the soil loop.
func NewAWSTarget(client Publisher, qos byte, topics map[string]string) *MQTTTarget {
	return NewMQTTTarget("aws", client, qos, func(ev Event) (string, bool) {
		topic, ok := topics[ev.Loop]
		return topic, ok && topic != ""
	})
}

// NewThingsBoardTarget routes readings to device telemetry and transitions
// to device attributes.
func NewThingsBoardTarget(client Publisher, qos byte) *MQTTTarget {
	return NewMQTTTarget("thingsboard", client, qos, func(ev Event) (string, bool) {
		if ev.Kind == KindTransition {
			return mqtt.Topics{}.Attributes(), true
		}
		return mqtt.Topics{}.Telemetry(), true
	})
}

func (t *MQTTTarget) Name() string { return t.name }

// Send publishes ev. Events the router declines are skipped silently.
func (t *MQTTTarget) Send(ctx context.Context, ev Event) error {
	topic, ok := t.route(ev)
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := ev.Payload()
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	return t.client.Publish(topic, payload, t.qos, false)
}
