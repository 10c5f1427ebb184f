// Package forward delivers committed events to other processes.
//
// A process that commits a conversation or message fans it out to its own
// registries and then hands it to each configured Forwarder. HTTPForwarder
// POSTs to a companion's ingest endpoints. RedisForwarder publishes on a
// shared channel that every instance reads with a RedisSubscriber.
//
// Forwarding is at-most-once. A failed forward is logged by the caller and
// never retried.
package forward
