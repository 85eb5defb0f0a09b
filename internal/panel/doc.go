// Package panel serves the operator web panel embedded in the binary.
//
// The panel is a single static page that talks to the /api/v1 control
// surface: it shows the experiment status, the four plate previews and
// the live view, and starts or stops runs. Unknown paths fall back to
// index.html; missing assets
// are 404s.
package panel
