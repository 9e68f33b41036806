// Package pal is the platform abstraction the scheduler runs on.
//
// A platform supplies three capabilities:
//
//   - Port moves raw bytes to and from the secure element and controls its
//     reset and power lines
//   - Timer schedules the one-shot callbacks that drive polling and timeouts
//   - Lock guards scheduler state and brackets every port access in a
//     critical section
//
// StdTimer and MutexLock cover hosted Go programs. The i2c and uart
// subpackages provide ports for real hardware; package sim provides one
// backed by a software element.
package pal
