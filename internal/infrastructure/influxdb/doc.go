// Package influxdb stores reading and actuator history in InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library. Writes are
// non-blocking and batched (batch_size, flush_interval), so a slow or
// unreachable server never stalls a control loop; asynchronous write
// failures are reported through SetOnError.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("soil", map[string]any{"moisture": 120, "raw": 135}, time.Now())
//	client.WriteTransition("soil", true, "threshold", time.Now())
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
package influxdb
