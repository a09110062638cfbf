// Package guild keeps the in-memory directory of registered guilds.
//
// A guild moves from absent to registered to removed. Removal is not a
// tombstone: the same snowflake can be registered again later and gets a
// fresh local id.
//
// Every mutation is written to the store first and only then applied to
// memory. Additions in flight are tracked in a pending set so concurrent
// readers never see a guild that has not been persisted.
package guild
