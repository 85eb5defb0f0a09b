// Package imaging turns one plate position into one saved photograph.
//
// It contains three cooperating parts:
//   - Classifier: samples a low-resolution frame and decides day or night
//   - ExposureController: applies day/night exposure and pins white balance
//     on night-to-day edges
//   - Pipeline: runs classify, expose, capture, save and preview in order
//
// None of these types are safe for concurrent use; the experiment worker
// owns the camera and the rig for the whole run.
package imaging
