package mqtt

import "strings"

// ThingsBoard device API topics. The device is identified by its access
// token, so every topic addresses "me".
const (
	// TopicTelemetry receives time-series values.
	TopicTelemetry = "v1/devices/me/telemetry"

	// TopicAttributes receives client-side attributes (current power state).
	TopicAttributes = "v1/devices/me/attributes"

	// TopicRPCRequestPrefix precedes the request id of server-side RPC calls.
	TopicRPCRequestPrefix = "v1/devices/me/rpc/request/"

	// TopicRPCResponsePrefix precedes the request id of RPC replies.
	TopicRPCResponsePrefix = "v1/devices/me/rpc/response/"
)

// Topics provides builders for the ThingsBoard device topics.
//
//	topics := mqtt.Topics{}
//	sub := topics.RPCRequests()          // v1/devices/me/rpc/request/+
//	reply := topics.RPCResponse("42")    // v1/devices/me/rpc/response/42
type Topics struct{}

// Telemetry returns the telemetry topic.
func (Topics) Telemetry() string {
	return TopicTelemetry
}

// Attributes returns the client attributes topic.
func (Topics) Attributes() string {
	return TopicAttributes
}

// RPCRequests returns the wildcard subscription for server-side RPC.
func (Topics) RPCRequests() string {
	return TopicRPCRequestPrefix + "+"
}

// RPCResponse returns the reply topic for a request id.
func (Topics) RPCResponse(requestID string) string {
	return TopicRPCResponsePrefix + requestID
}

// RPCRequestID extracts the request id from an RPC request topic.
// It returns false for any other topic or an empty id.
func (Topics) RPCRequestID(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, TopicRPCRequestPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
