// Package llm generates assistant replies for widget conversations.
package llm
