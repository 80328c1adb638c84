// Package progressive feeds a compressed audio byte stream into a decoder
// buffer as it arrives, instead of waiting for the whole resource.
//
// A Guard owns at most one Session at a time. Each Session binds one
// StreamSource to one Handle and runs a Scheduler that:
//   - pulls one Chunk at a time from the source
//   - dispatches exactly one append and waits for its completion before the next read
//   - ends the buffer once the source is exhausted
//
// When the environment cannot buffer progressively, or the stream fails
// mid-way, the session's Fallback re-points the Sink at the resource locator
// for whole-file playback. That switch happens at most once per session.
package progressive
