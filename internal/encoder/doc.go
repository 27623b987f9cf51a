// Package encoder wraps the external ffmpeg process behind a narrow command
// surface.
//
// Each conversion runs as its own ffmpeg process; requests return as soon as
// the process is launched, and progress, completion, failure, and cancellation
// arrive asynchronously on a single event channel keyed by task ID. Requests
// are typed per job kind (audio, video, extract) so dispatch decisions stay
// compiler-checked instead of flowing through one loosely-typed settings bag.
package encoder
