// Package gpu detects hardware video-encoding capability.
//
// Detection cross-checks the system GPU inventory against the encoders ffmpeg
// actually reports, so a GPU without working driver support degrades cleanly
// to CPU encoding. The resulting Info is opaque to the queue and consumed
// only by the encoder command builder.
package gpu
