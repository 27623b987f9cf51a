// Package persist stores queue snapshots in SQLite so a restart resumes the
// user's queue. Snapshots are versioned and carry a save timestamp; a
// version mismatch or a snapshot older than the retention window discards
// the whole snapshot instead of migrating it. The last-used output directory
// is kept as a separate scalar, independent of the job list.
package persist
