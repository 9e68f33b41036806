// Package chunk splits operations larger than one frame into a tagged
// sequence of frames and carries device-held intermediate state between them.
//
// A Plan hands out START, CONTINUE and FINAL frames (or a single START_FINAL).
// Built WithIntermediate, it refuses to produce a frame until the state the
// device returned for the previous frame has been accepted; losing that state
// aborts the plan with ErrIntermediateLost and the operation must restart.
//
//	plan, _ := chunk.Begin(len(data), capacity, chunk.WithPayload(data), chunk.WithIntermediate())
//	for !plan.Done() {
//	    frame, err := plan.Next()
//	    if err != nil {
//	        return err
//	    }
//	    reply := send(frame.Tag, frame.Data, frame.Intermediate)
//	    if !frame.Last {
//	        if err := plan.AcceptIntermediate(reply.Context); err != nil {
//	            return err
//	        }
//	    }
//	}
//
// Order validates tag streams on the receiving side, and Reassembler drives
// chunked reads that end on a short chunk or a known total.
package chunk
