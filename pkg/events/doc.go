// Package events is the in-process hook dispatcher.
//
// A Bus delivers events synchronously in subscription order, so a mutation
// that publishes an event has cleared every dependent cache by the time
// Publish returns.
package events
