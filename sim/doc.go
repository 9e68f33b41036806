// Package sim is a software secure element and a pal.Port connected to it.
//
// The element implements the commands the driver issues (open/close
// application, data objects, last error, random, chunked hashing) and the
// device side of the shielded channel, so complete host flows can run in
// tests, examples and the CLI without hardware.
//
//	el, _ := sim.NewElement(secret)
//	port := sim.NewPort(el, sim.WithDelay(10*time.Millisecond))
//	sched := scheduler.New(port, scheduler.WithChannel(ch))
//
// The port can inject faults: SetSilent for timeouts, FailSends for
// transport errors and SetTamper to corrupt responses in flight.
package sim
