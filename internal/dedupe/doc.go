// Package dedupe filters Matrix events that have already been handled.
//
// Sync responses can repeat events after reconnects or when the crypto helper
// redispatches a decrypted event. The Matrix adapter asks a Filter about each
// event ID before handing the event to the relay; only the first sighting
// within the window passes.
package dedupe
