// Package notifications delivers user-facing push notifications through
// ntfy. When no topic is configured every notification is a silent no-op, so
// callers never need to guard their calls.
package notifications
