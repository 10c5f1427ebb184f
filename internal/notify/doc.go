// Package notify tells human operators about new activity outside the
// dashboard. Notifiers are forwarders: the publisher calls them after a
// local broadcast, with the same timeout and at-most-once semantics.
package notify
