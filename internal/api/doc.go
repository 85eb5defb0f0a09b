// Package api is the HTTP control surface of a spiro rig.
//
// It exposes the experiment status, start and stop commands, per-plate
// previews, run history, an MJPEG live view and a WebSocket feed of
// experiment events. The embedded operator panel is served under /panel.
//
// The server follows the same lifecycle as the other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
