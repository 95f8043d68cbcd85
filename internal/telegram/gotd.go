package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tgcollector/internal/channel"
)

// GotdClient implements Client on top of a gotd RPC client.
type GotdClient struct {
	api *tg.Client
}

// NewGotdClient wraps an authorized gotd RPC client.
func NewGotdClient(api *tg.Client) *GotdClient {
	return &GotdClient{api: api}
}

// ResolveChannel resolves the reference according to its kind: usernames
// and public links go through contacts.resolveUsername, numeric IDs through
// channels.getChannels, invite links through messages.checkChatInvite.
func (c *GotdClient) ResolveChannel(ctx context.Context, ref channel.Ref) (Peer, error) {
	switch ref.Kind {
	case channel.KindUsername, channel.KindPublicLink:
		return c.resolveUsername(ctx, ref.Canonical)
	case channel.KindNumericID:
		id, ok := ref.BareChannelID()
		if !ok {
			return Peer{}, fmt.Errorf("%w: bad numeric reference %q", ErrNotFound, ref.Raw)
		}
		return c.resolveID(ctx, id)
	case channel.KindPrivateInviteLink:
		return c.resolveInvite(ctx, ref.Canonical)
	default:
		return Peer{}, fmt.Errorf("%w: unsupported reference kind %s", ErrNotFound, ref.Kind)
	}
}

func (c *GotdClient) resolveUsername(ctx context.Context, username string) (Peer, error) {
	res, err := c.api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return Peer{}, classify(err)
	}
	return channelPeer(res.Chats, username)
}

func (c *GotdClient) resolveID(ctx context.Context, id int64) (Peer, error) {
	// Without a cached access hash only channels the session has already
	// seen resolve; Telegram rejects the rest with CHANNEL_INVALID.
	res, err := c.api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: id},
	})
	if err != nil {
		return Peer{}, classify(err)
	}
	return channelPeer(res.GetChats(), fmt.Sprintf("-100%d", id))
}

func (c *GotdClient) resolveInvite(ctx context.Context, token string) (Peer, error) {
	res, err := c.api.MessagesCheckChatInvite(ctx, token)
	if err != nil {
		return Peer{}, classify(err)
	}
	switch invite := res.(type) {
	case *tg.ChatInviteAlready:
		return channelPeer([]tg.ChatClass{invite.Chat}, token)
	case *tg.ChatInvitePeek:
		return channelPeer([]tg.ChatClass{invite.Chat}, token)
	default:
		// A bare ChatInvite means the account has not joined: the history
		// is not readable, which no retry within a cycle can change.
		return Peer{}, fmt.Errorf("%w: not a member of invite %q", ErrAccessDenied, token)
	}
}

// RecentMessages fetches the newest limit messages via messages.getHistory.
// Service messages (joins, pins) carry no text or views and are skipped.
func (c *GotdClient) RecentMessages(ctx context.Context, peer Peer, limit int) ([]Message, error) {
	res, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  &tg.InputPeerChannel{ChannelID: peer.ID, AccessHash: peer.AccessHash},
		Limit: limit,
	})
	if err != nil {
		return nil, classify(err)
	}

	var raw []tg.MessageClass
	switch history := res.(type) {
	case *tg.MessagesChannelMessages:
		raw = history.Messages
	case *tg.MessagesMessages:
		raw = history.Messages
	case *tg.MessagesMessagesSlice:
		raw = history.Messages
	default:
		return nil, fmt.Errorf("telegram: unexpected history response %T", res)
	}

	msgs := make([]Message, 0, len(raw))
	for _, mc := range raw {
		m, ok := mc.(*tg.Message)
		if !ok {
			continue
		}
		views, hasViews := m.GetViews()
		msgs = append(msgs, Message{
			ID:          int64(m.ID),
			PublishedAt: unixUTC(m.Date),
			Text:        m.Message,
			HasText:     m.Message != "",
			Views:       int32(views),
			HasViews:    hasViews,
		})
	}
	return msgs, nil
}

// channelPeer picks the broadcast channel out of a chat list.
func channelPeer(chats []tg.ChatClass, ref string) (Peer, error) {
	for _, chat := range chats {
		if ch, ok := chat.(*tg.Channel); ok {
			return Peer{ID: ch.ID, AccessHash: ch.AccessHash}, nil
		}
	}
	return Peer{}, fmt.Errorf("%w: %q did not resolve to a channel", ErrNotFound, ref)
}

// classify maps gotd RPC errors onto the collector's error kinds. Anything
// unrecognized is left as-is and treated as transient by the fetcher.
func classify(err error) error {
	if wait, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Wait: wait}
	}
	if tgerr.Is(err, "CHANNEL_PRIVATE", "CHAT_ADMIN_REQUIRED") {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	if tgerr.Is(err,
		"USERNAME_NOT_OCCUPIED",
		"USERNAME_INVALID",
		"CHANNEL_INVALID",
		"PEER_ID_INVALID",
		"INVITE_HASH_INVALID",
		"INVITE_HASH_EXPIRED",
	) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func unixUTC(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
