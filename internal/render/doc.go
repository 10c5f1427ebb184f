// Package render formats stored messages for display.
package render
