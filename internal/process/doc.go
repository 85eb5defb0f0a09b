// Package process supervises long-running helper binaries the daemon
// depends on, most notably the rpicam-vid live-view encoder.
//
// Features:
//   - Start/stop with SIGTERM to the process group, SIGKILL after a timeout
//   - Automatic restart with exponential backoff
//   - Stdout delivered to a caller-supplied sink (e.g. an MJPEG splitter)
//   - Stall watchdog: a child that stops producing output is killed
//   - Stderr captured into the daemon log
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:         "rpicam-vid",
//	    Binary:       "rpicam-vid",
//	    Args:         []string{"-t", "0", "--codec", "mjpeg", "-o", "-"},
//	    Stdout:       splitter,
//	    StallTimeout: 10 * time.Second,
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
