// Package channel models the backend stream channels a capture request fans
// out to. Each configured output stream is served by one Channel of a fixed
// StreamKind; the capture pipeline never talks to channels directly, only
// the backend does.
//
// The set of kinds is closed:
//
//	Regular   processed YUV preview/video output
//	Raw       sensor raw output
//	Picture   still capture (JPEG source)
//	Metadata  per-frame statistics stream
//	Support   internal analysis stream (not visible to the caller)
//	RawDump   debug raw dump
//
// QueueChannel is the in-memory implementation used by the simulated backend.
package channel
