// Package autosave persists cache refresh timestamps in the background.
//
// The scheduler never runs on the dispatch path. Each tick writes one row per
// dirty guild with overwrite semantics, and a failure for one guild does not
// stop the others. Stop performs a last flush so the most recent interval is
// not lost on shutdown.
package autosave
