// Package telegram defines the narrow MTProto client surface the collector
// needs, plus a gotd-backed implementation. The interface keeps fetch and
// scheduling logic testable without a live Telegram session.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tgcollector/internal/channel"
)

// Peer identifies a resolved channel to the API.
type Peer struct {
	ID         int64
	AccessHash int64
}

// Message is one collected channel message. Text and Views are optional on
// the wire; the Has* flags distinguish absent from zero.
type Message struct {
	ID          int64
	PublishedAt time.Time
	Text        string
	HasText     bool
	Views       int32
	HasViews    bool
}

// Client is the collector's view of the Telegram API. Implementations must
// return messages newest-first, at most limit per call, and translate API
// failures into the error kinds below.
type Client interface {
	// ResolveChannel turns a syntactic reference into an API peer.
	ResolveChannel(ctx context.Context, ref channel.Ref) (Peer, error)
	// RecentMessages fetches the newest messages of the peer's channel.
	RecentMessages(ctx context.Context, peer Peer, limit int) ([]Message, error)
}

// ErrAccessDenied indicates the account may not read the channel
// (private channel, admin rights required).
var ErrAccessDenied = errors.New("telegram: access denied")

// ErrNotFound indicates the reference does not name a reachable channel
// (unknown username, invalid peer, expired invite).
var ErrNotFound = errors.New("telegram: channel not found")

// FloodWaitError carries a server-mandated minimum wait.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("telegram: flood wait %s", e.Wait)
}

// AsFloodWait extracts the mandated wait from an error chain.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
