// Package matrix connects a Matrix bot account to the relay.
//
// A Bridge syncs with the homeserver and accepts text messages that are
// either sent in a direct room (exactly two joined members) or mention the
// bot in a group room. The mention is stripped before the text reaches the
// relay. Conversations are identified by room ID and threads by the event ID
// of the m.thread root.
//
// The Bridge is also the relay's Messenger: replies are sent as m.text with a
// goldmark-rendered formatted_body, images are uploaded to the media
// repository and posted as m.image, and thread roots are fetched (and
// decrypted when encryption is on) to supply parent context.
//
// Encryption is optional. EnableEncryption wires the mautrix crypto helper
// with a SQLite store and can cross-sign with a recovery key.
package matrix
