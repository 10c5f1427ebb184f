// Package events defines the envelopes pushed to real-time subscribers.
//
// # Envelope
//
// An Envelope is a closed set of event shapes:
//
//   - Connected: first frame of every stream, carries the subscriber's agent id
//   - NewConversation: a conversation row was committed
//   - NewMessage: a message row was committed
//
// The set is sealed by an unexported method so switches over Envelope can be
// exhaustive. Envelopes are values; nothing mutates one after it is built.
//
// # Wire Format
//
// Encode produces a flat JSON object with a "type" discriminant:
//
//	{"type":"new_message","messageId":"...","conversationId":"...","role":"user",...}
//
// Frame wraps the JSON in a single SSE data frame ("data: <json>\n\n").
// Decode reverses Encode and returns ErrUnknownType for any other "type",
// which consumers discard.
package events
