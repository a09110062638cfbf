// Package dedupe drops gateway messages that are delivered more than once
// (for example after a shard resume) within a configurable window.
package dedupe
