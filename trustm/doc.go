// Package trustm provides a high-level, blocking API for a secure element
// on top of the command scheduler.
//
// # Overview
//
// A Device turns element operations into scheduler requests and waits for
// them:
//   - Opening, closing and hibernating the application
//   - Reading and writing data objects of any size, in frames
//   - Streaming SHA-256 over data larger than one frame
//   - Drawing random numbers
//   - Provisioning a whole manifest with read-back verification
//
// # Basic Usage
//
//	port, err := i2c.Open("/dev/i2c-1", "GPIO17", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ch, _ := shielded.NewChannel(platformBindingSecret)
//	sched := scheduler.New(port, scheduler.WithChannel(ch))
//	dev := trustm.New(sched, trustm.WithProtection(shielded.LevelEncryptAuthenticate))
//
//	if err := dev.OpenApplication(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	uid, err := dev.ReadData(ctx, protocol.OIDCoprocessorUID, 0)
//
// The first protected command runs the shielded handshake. After an
// integrity failure the session stays invalid until Establish is called.
//
// # Progress Tracking
//
//	dev := trustm.New(sched,
//	    trustm.WithProgressCallback(func(p trustm.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Row %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentRow, p.TotalRows)
//	    }),
//	)
//	err := dev.Provision(ctx, m)
//
// # Error Handling
//
// Commands the element rejects come back as *protocol.DeviceError holding
// the element's last error code. Scheduler and session errors are wrapped
// and can be checked with errors.Is:
//
//	var de *protocol.DeviceError
//	if errors.As(err, &de) && de.Code == protocol.ErrCodeAccessConditions {
//	    // ...
//	}
//
// Provisioning adds ChecksumMismatchError and VerificationError.
package trustm
