// Package telemetry fans control loop events out to every configured sink.
//
// A Fanout implements controller.Publisher. Each event (a reading, or an
// actuator transition) is delivered to every Target in its own goroutine:
// a slow or failing target never stops delivery to the others. Failures are
// joined, logged and counted, never returned to the control loop.
//
// Targets:
//
//   - MQTTTarget for Broker A (AWS IoT Core): readings and transitions to
//     the loop's topic. Offline queueing lives in the broker connection.
//   - MQTTTarget for Broker B (ThingsBoard): readings to the telemetry topic,
//     transitions to the attributes topic, behind a BreakerTarget.
//   - InfluxRecorder: readings and transitions to InfluxDB.
//   - HistoryRecorder: transitions to the local SQLite history.
package telemetry
