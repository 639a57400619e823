// Package proctor is the stateful violation-detection engine for remote exams.
//
// An Engine receives one camera frame at a time for a candidate, runs the
// face and object detector collaborators, and folds their output into
// per-candidate state:
//
//   - FaceBuffer debounces the raw face count into stable no-face and
//     multiple-face signals.
//   - MotionEstimator scores frame-to-frame pixel change against a short
//     rolling window.
//   - PhoneTracker follows phone detections across frames, spots rear
//     camera modules and runs the removal countdown.
//   - ObjectTracker follows other prohibited items and escalates them
//     after their visibility threshold.
//
// The result is a Verdict with a fixed schema. A single engine is shared by
// every candidate. It analyses one frame at a time and answers with a
// skipped, neutral verdict instead of waiting when a frame is already in
// flight.
package proctor
