// Package command handles server-side RPC from ThingsBoard.
//
// The listener subscribes to v1/devices/me/rpc/request/+ on Broker B,
// decodes each request into a typed Command and applies it to one control
// loop through controller.Override, so commands and poll cycles share the
// loop's state lock. Two methods exist:
//
//	{"method": "setColor", "params": {"color": "blue"}}   // blue is On, green is Off
//	{"method": "setState", "params": {"state": "On"}}     // also true/false or {"enabled": bool}
//
// After a command is applied the listener publishes {"power": "On"|"Off"}
// to the telemetry topic and answers on v1/devices/me/rpc/response/{id}.
//
// Malformed or unknown requests are logged and dropped. Nothing is ever
// returned to the MQTT client, so one bad message cannot stop the
// subscription. QoS 1 redeliveries of a request id seen within the
// dedup window are acknowledged again but applied only once.
package command
