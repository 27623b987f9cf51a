// Command convertq manages a batch media conversion queue backed by ffmpeg.
// Files are added to a persistent queue, converted with bounded parallelism,
// and reported on via tables and optional push notifications.
package main
