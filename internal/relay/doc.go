// Package relay is the prompt-dispatch state machine between the chat
// platform and the generation API.
//
// # Flow
//
// For each inbound message Handle:
//
//  1. Takes the conversation's lock, so one prompt per conversation is in flight.
//  2. Looks up the thread parent for threaded, non-direct messages.
//  3. Classifies the text (prompt.Classify). Empty prompts stop here; a bare
//     "image:" gets the usage hint.
//  4. Sends a filler acknowledgement if the conversation was idle for longer
//     than the cooldown (notify.Gate).
//  5. Image prompts: one image is generated. Direct conversations get the URL,
//     rooms get the image uploaded from a temporary file that is removed
//     afterwards.
//  6. Chat prompts: context is assembled from history (prompt.Assembler),
//     completed, stored as an exchange, and posted.
//
// # Failures
//
// Rejections and rate limits reported by the generation API are posted as the
// reply and leave history untouched. A failed image upload is logged without
// a substitute message. Anything else is returned from Handle.
package relay
