// Package api serves the local status HTTP API of the edge controller.
//
// Endpoints:
//
//	GET /api/v1/health               component health (brokers, databases)
//	GET /api/v1/loops                state, threshold and last reading per loop
//	GET /api/v1/loops/{name}         one loop
//	GET /api/v1/loops/{name}/history recent actuator transitions
//	GET /api/v1/commands             recent remote commands
//	GET /metrics                     Prometheus exposition
//
// The API is read-only. Actuator state changes only through the control
// loops and the remote command listener.
//
// The server follows the same lifecycle as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
