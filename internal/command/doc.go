// Package command implements the bot's command protocol.
//
// A command line is the prefix character immediately followed by a verb and
// whitespace-separated arguments:
//
//	-whitelist steam:110000112345678
//
// Verbs are matched exactly and case-sensitively against the Registry, so
// there is never more than one candidate. Admission runs in a fixed order:
// the role check (IsAllowed) first, then the argument count (IsSatisfied),
// then the guild requirement. Each rejection sends a Notice and the handler
// does not run.
//
// Dispatcher.Submit hands messages to a bounded worker pool so handler I/O
// never stalls the gateway's event goroutine. Handlers run under a timeout
// and a panic in one never reaches another.
package command
