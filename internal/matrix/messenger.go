// ABOUTME: Outbound Matrix operations used by the relay
// ABOUTME: Threaded text replies, image uploads, and thread root lookup

package matrix

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/relay"
)

// PostMessage sends text to the target room, in its thread when set.
func (b *Bridge) PostMessage(ctx context.Context, to relay.Target, text string) error {
	content := &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	}
	if formatted, ok := renderMarkdown(text); ok {
		content.Format = event.FormatHTML
		content.FormattedBody = formatted
	}
	setThread(content, to.ThreadID)

	if _, err := b.client.SendMessageEvent(ctx, id.RoomID(to.ConversationID), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// UploadFile uploads the file at path to the media repository and posts it
// as an image with title as its caption.
func (b *Bridge) UploadFile(ctx context.Context, to relay.Target, path, title string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading upload: %w", err)
	}

	name := filepath.Base(path)
	mimeType := http.DetectContentType(data)
	resp, err := b.client.UploadBytesWithName(ctx, data, mimeType, name)
	if err != nil {
		return fmt.Errorf("uploading media: %w", err)
	}

	content := &event.MessageEventContent{
		MsgType:  event.MsgImage,
		Body:     title,
		FileName: name,
		URL:      resp.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	}
	setThread(content, to.ThreadID)

	if _, err := b.client.SendMessageEvent(ctx, id.RoomID(to.ConversationID), event.EventMessage, content); err != nil {
		return fmt.Errorf("sending image: %w", err)
	}
	return nil
}

// ThreadParent returns the body of the event that started the thread, with
// any mention of the bot removed.
func (b *Bridge) ThreadParent(ctx context.Context, conversationID, threadID string) (string, error) {
	roomID := id.RoomID(conversationID)
	evt, err := b.client.GetEvent(ctx, roomID, id.EventID(threadID))
	if err != nil {
		return "", fmt.Errorf("fetching thread root: %w", err)
	}
	evt.RoomID = roomID

	if err := evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		return "", fmt.Errorf("parsing thread root: %w", err)
	}

	if evt.Type == event.EventEncrypted {
		if b.client.Crypto == nil {
			return "", fmt.Errorf("thread root is encrypted and encryption is disabled")
		}
		evt, err = b.client.Crypto.Decrypt(ctx, evt)
		if err != nil {
			return "", fmt.Errorf("decrypting thread root: %w", err)
		}
	}

	content := evt.Content.AsMessage()
	if content == nil {
		return "", nil
	}
	body := content.Body
	if isReply(content) {
		body = trimReplyFallback(body)
	}
	return stripMention(body, b.userID, b.opts.DisplayName), nil
}

func setThread(content *event.MessageEventContent, threadID string) {
	if threadID == "" {
		return
	}
	root := id.EventID(threadID)
	content.RelatesTo = (&event.RelatesTo{}).SetThread(root, root)
}
