// Package venue implements the booking core for a university sports-venue
// portal: a session store, a portal HTTP client, cookie renewal, and the
// bounded-time booking cycle engine.
//
// The package is host-agnostic. Scheduling, chat commands, and notification
// delivery live in the plugin layer; this package only consumes a Notify
// callback and a context.
package venue
