// Package experiment runs multi-day time-lapse experiments.
//
// A Worker owns the camera and the turntable for the lifetime of the
// process. It sleeps until Go hands it a RunConfig, then drives rounds:
// each round homes the table, images all four plates in order, parks the
// table and waits for the next scheduled round. The control surface reads
// State snapshots and previews, and may request a stop at any time; stops
// are honoured at round boundaries and within one second while waiting.
//
// Status transitions are explicit:
//
//	Stopped -> Initiating -> Finding start position <-> Imaging <-> Waiting
//	any running state -> Stopping -> Stopped
//
// Every run ends on the same finalisation path, whatever the reason.
package experiment
