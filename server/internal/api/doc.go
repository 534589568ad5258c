// Package api implements the HTTP REST API for relicwatch-server.
//
// New(deps) returns a chi router that serves:
//
//	GET   /api/v1/health                  sensor and alert counts
//	GET   /api/v1/alerts                  filtered alert history
//	PATCH /api/v1/alerts/{id}             lifecycle transition (auth)
//	GET   /api/v1/thresholds              registered threshold rules
//	PUT   /api/v1/thresholds/{sensorType} register a new sensor type (auth)
//	GET   /api/v1/sensors                 latest reading per live sensor
//	GET   /api/v1/sensors/{id}            one sensor plus diagnostic hints
//	POST  /api/v1/readings?topic=         raw payload ingest (auth)
//	GET   /api/v1/stats                   pipeline counters
//	GET   /metrics                        Prometheus exposition
//	GET   /ws/stream                      WebSocket stream, when configured
//
// All JSON endpoints respond with Content-Type: application/json and report
// errors as {"error": "..."}.
package api
