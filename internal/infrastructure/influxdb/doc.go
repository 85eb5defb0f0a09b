// Package influxdb records time-lapse telemetry in InfluxDB v2.
//
// Every capture attempt that succeeds produces one point in the "capture"
// measurement, tagged with the rig instance, run and plate:
//
//	capture,instance=rig-a,run_id=...,plate=2,daytime=true brightness=87.4,duration_ms=1830
//
// Every completed round produces one point in the "round" measurement
// carrying the round number and the remaining shot budget.
//
// Writes are non-blocking and batched by the client library. Write
// failures are reported through the callback set with SetOnError; they
// never reach the experiment loop.
package influxdb
