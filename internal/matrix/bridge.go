// ABOUTME: Matrix bridge core for coven-relay
// ABOUTME: Turns addressed room messages into relay requests and delivers replies

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-relay/internal/dedupe"
	"github.com/2389/coven-relay/internal/metrics"
	"github.com/2389/coven-relay/internal/relay"
)

const (
	// dedupeWindow bounds how long handled event IDs are remembered.
	dedupeWindow   = 10 * time.Minute
	dedupeCapacity = 4096

	// networkTimeout is the timeout for small Matrix API calls.
	networkTimeout = 10 * time.Second
)

// Handler consumes accepted messages.
type Handler interface {
	Handle(ctx context.Context, in relay.Inbound) error
}

// Options configures a Bridge.
type Options struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	DisplayName  string
	AllowedRooms []string
	Metrics      *metrics.Metrics
}

// Bridge connects a Matrix account to the relay. It also implements
// relay.Messenger for replies.
type Bridge struct {
	opts   Options
	client *mautrix.Client
	userID id.UserID
	seen   *dedupe.Filter
	logger *slog.Logger

	// startedAt guards against replaying history on the first sync.
	startedAt time.Time

	directMu sync.Mutex
	direct   map[id.RoomID]bool
	// countMembers is swapped out in tests.
	countMembers func(ctx context.Context, roomID id.RoomID) (int, error)

	// ctx is the parent context for message processing goroutines
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler
	wg      sync.WaitGroup
}

// NewBridge creates a bridge for the given account. No network calls are made.
func NewBridge(opts Options, logger *slog.Logger) (*Bridge, error) {
	if logger == nil {
		logger = slog.Default()
	}
	userID := id.UserID(opts.UserID)
	client, err := mautrix.NewClient(opts.Homeserver, userID, opts.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	b := &Bridge{
		opts:      opts,
		client:    client,
		userID:    userID,
		seen:      dedupe.NewFilter(dedupeWindow, dedupeCapacity),
		logger:    logger.With("component", "matrix"),
		startedAt: time.Now(),
		direct:    make(map[id.RoomID]bool),
	}
	b.countMembers = b.joinedMemberCount
	return b, nil
}

// Login verifies the access token and fills in the device ID, which the
// crypto helper needs.
func (b *Bridge) Login(ctx context.Context) error {
	resp, err := b.client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("verifying access token: %w", err)
	}
	if resp.UserID != b.userID {
		return fmt.Errorf("access token belongs to %s, not %s", resp.UserID, b.userID)
	}
	b.client.DeviceID = resp.DeviceID
	b.logger.Info("logged in", "user_id", resp.UserID.String(), "device_id", resp.DeviceID.String())
	return nil
}

// Run syncs with the homeserver and hands accepted messages to handler. It
// blocks until ctx is cancelled, then waits for in-flight handlers.
func (b *Bridge) Run(ctx context.Context, handler Handler) error {
	b.logger.Info("starting matrix bridge",
		"homeserver", b.opts.Homeserver,
		"user_id", b.opts.UserID,
	)

	b.ctx, b.cancel = context.WithCancel(ctx)
	defer b.cancel()
	b.handler = handler

	syncer, ok := b.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", b.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, b.handleMessageEvent)
	syncer.OnEventType(event.StateMember, b.handleMemberEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- b.client.SyncWithContext(b.ctx)
	}()

	b.logger.Info("matrix bridge running")

	var err error
	select {
	case <-ctx.Done():
		b.logger.Info("shutting down matrix bridge")
	case err = <-syncErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("matrix sync failed: %w", err)
		} else {
			err = nil
		}
	}

	b.cancel()
	b.wg.Wait()
	return err
}

// handleMessageEvent filters a message and dispatches it to the handler.
func (b *Bridge) handleMessageEvent(ctx context.Context, evt *event.Event) {
	in, ok := b.accept(ctx, evt)
	if !ok {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.handler.Handle(b.ctx, in); err != nil {
			b.opts.Metrics.IncHandlerError()
			b.logger.Error("failed to handle message",
				"room", in.ConversationID,
				"event_id", in.EventID,
				"error", err,
			)
		}
	}()
}

// accept applies the bridge filters and converts evt into a relay request.
func (b *Bridge) accept(ctx context.Context, evt *event.Event) (relay.Inbound, bool) {
	if evt.Sender == b.userID {
		return relay.Inbound{}, false
	}
	if time.UnixMilli(evt.Timestamp).Before(b.startedAt) {
		return relay.Inbound{}, false
	}

	content := evt.Content.AsMessage()
	if content == nil || content.MsgType != event.MsgText {
		return relay.Inbound{}, false
	}
	// Edits arrive as new events; only originals are prompts.
	if content.RelatesTo != nil && content.RelatesTo.Type == event.RelReplace {
		return relay.Inbound{}, false
	}

	roomID := evt.RoomID.String()
	if !b.isRoomAllowed(roomID) {
		b.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return relay.Inbound{}, false
	}

	if !b.seen.First(evt.ID.String()) {
		b.logger.Debug("ignoring duplicate event", "event_id", evt.ID.String())
		return relay.Inbound{}, false
	}

	direct, err := b.isDirect(ctx, evt.RoomID)
	if err != nil {
		b.logger.Warn("could not determine room type", "room", roomID, "error", err)
	}

	body := content.Body
	if isReply(content) {
		body = trimReplyFallback(body)
	}
	if !direct {
		if !mentionsBot(body, content.Mentions, b.userID, b.opts.DisplayName) {
			return relay.Inbound{}, false
		}
		if content.Mentions != nil && slices.Contains(content.Mentions.UserIDs, b.userID) {
			body = stripPillMention(body, b.userID, b.opts.DisplayName)
		} else {
			body = stripMention(body, b.userID, b.opts.DisplayName)
		}
	}

	return relay.Inbound{
		EventID:        evt.ID.String(),
		ConversationID: roomID,
		ThreadID:       content.RelatesTo.GetThreadParent().String(),
		Sender:         evt.Sender.String(),
		Text:           body,
		Direct:         direct,
	}, true
}

// handleMemberEvent joins rooms the bot is invited to and forgets cached
// room types when membership changes.
func (b *Bridge) handleMemberEvent(ctx context.Context, evt *event.Event) {
	b.directMu.Lock()
	delete(b.direct, evt.RoomID)
	b.directMu.Unlock()

	if evt.GetStateKey() != b.userID.String() {
		return
	}
	member := evt.Content.AsMember()
	if member == nil || member.Membership != event.MembershipInvite {
		return
	}
	if !b.isRoomAllowed(evt.RoomID.String()) {
		b.logger.Info("declining invite to non-allowed room", "room", evt.RoomID.String())
		return
	}

	joinCtx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	if _, err := b.client.JoinRoomByID(joinCtx, evt.RoomID); err != nil {
		b.logger.Error("failed to join room", "room", evt.RoomID.String(), "error", err)
		return
	}
	b.logger.Info("joined room", "room", evt.RoomID.String(), "inviter", evt.Sender.String())
}

// isDirect reports whether the room has exactly two joined members.
func (b *Bridge) isDirect(ctx context.Context, roomID id.RoomID) (bool, error) {
	b.directMu.Lock()
	direct, ok := b.direct[roomID]
	b.directMu.Unlock()
	if ok {
		return direct, nil
	}

	n, err := b.countMembers(ctx, roomID)
	if err != nil {
		return false, err
	}
	direct = n == 2

	b.directMu.Lock()
	b.direct[roomID] = direct
	b.directMu.Unlock()
	return direct, nil
}

func (b *Bridge) joinedMemberCount(ctx context.Context, roomID id.RoomID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()
	resp, err := b.client.JoinedMembers(ctx, roomID)
	if err != nil {
		return 0, fmt.Errorf("fetching joined members: %w", err)
	}
	return len(resp.Joined), nil
}

// isRoomAllowed checks if the room is in the allowed list.
func (b *Bridge) isRoomAllowed(roomID string) bool {
	if len(b.opts.AllowedRooms) == 0 {
		return true // Allow all if no filter
	}
	return slices.Contains(b.opts.AllowedRooms, roomID)
}
