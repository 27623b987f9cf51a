// Package media inspects source files with ffprobe and summarizes them into
// descriptors the queue uses for dispatch decisions.
//
// A Descriptor is produced once when a file is added to the queue and treated
// as immutable afterwards; its Type drives the audio/video/extract dispatch
// split in the scheduler.
package media
