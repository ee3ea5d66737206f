// Package capture implements the control path of a camera capture pipeline:
// request admission, pending-state bookkeeping and reconciliation of
// out-of-order metadata and buffer completions into ordered results.
//
// # Components
//
//   - Pending Request Ledger: outstanding requests ordered by frame number
//   - Pending Buffer Map: output buffers owned by the backend, keyed by (frame, stream)
//   - Frame Drop Registry: (frame, stream) marks forcing ERROR status on the next return
//   - Reprocess Cache: reprocess completions waiting for older frames to close
//   - Admission: bounded in-flight window with MinInflight/MaxInflight hysteresis
//   - Reconciler: metadata and buffer event handlers
//   - Flush: cancels everything outstanding and restarts the backend
//
// # Usage
//
//	p, err := capture.New(cfg, backend, sink,
//	    capture.WithMetrics(m.Capture),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Close(ctx)
//
//	if err := p.Submit(ctx, &capture.CaptureRequest{
//	    FrameNumber:   1,
//	    OutputBuffers: []capture.StreamBuffer{{StreamID: "preview", BufferID: 10}},
//	    Settings:      settings,
//	}); err != nil {
//	    return err
//	}
//
// The backend reports completions through OnMetadata, OnBuffer, Pull and
// OnDeviceError. Results reach the ResultSink in state-mutation order; a
// sink must never call Submit.
//
// # Locking
//
// One mutex guards the four collections and the in-flight counter.
// Results are staged under it and delivered after it is released while a
// second delivery mutex keeps delivery order equal to mutation order.
package capture
