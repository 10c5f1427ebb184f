// Package dedupe tracks recently seen event ids so a client applies each
// event at most once even when a reconnect or a second stream delivers it
// again.
package dedupe
