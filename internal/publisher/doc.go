// Package publisher converts committed records into events.
//
// Conversations go to the agent's topic on the conversations registry.
// Messages go to the agent's topic and the global topic on the messages
// registry; when the agent cannot be resolved the message is broadcast to
// every message topic instead of being dropped.
package publisher
