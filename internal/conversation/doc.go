// Package conversation implements the write path for widget conversations.
//
// Record first, then announce: every conversation and message is committed
// to the store before the publisher sees it. A failed write returns an
// error to the caller and nothing is broadcast, so subscribers never learn
// about a record that does not exist.
//
// Visitor messages on a conversation that has not been escalated get an
// assistant reply generated in the background with a bounded timeout. The
// reply goes through the same record-then-publish path.
package conversation
