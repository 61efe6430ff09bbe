package gateway

import (
	"errors"
	"time"

	"github.com/krisalay/livesync/freshness"
	"github.com/krisalay/livesync/types"
)

// Client to server.
const (
	TypeMount       = "mount"
	TypeUnmount     = "unmount"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Server to client.
const (
	TypeEntry     = "entry"
	TypeFreshness = "freshness"
	TypeError     = "error"
	TypePong      = "pong"
)

// Request is a message sent by a browser.
type Request struct {
	Type       string `json:"type"`
	Panel      string `json:"panel,omitempty"`
	Key        string `json:"key,omitempty"`
	IntervalMs int64  `json:"intervalMs,omitempty"`
}

// Message is a message pushed to a browser.
type Message struct {
	Type          string     `json:"type"`
	Panel         string     `json:"panel,omitempty"`
	Key           string     `json:"key,omitempty"`
	State         string     `json:"state,omitempty"`
	Data          any        `json:"data,omitempty"`
	FetchedAt     *time.Time `json:"fetchedAt,omitempty"`
	Error         string     `json:"error,omitempty"`
	Code          int        `json:"code,omitempty"`
	Version       uint64     `json:"version,omitempty"`
	ChangedFields []string   `json:"changedFields,omitempty"`
	Highlight     bool       `json:"highlight"`
}

// EntryView is the JSON form of a cache entry on the read API.
type EntryView struct {
	Key         string      `json:"key"`
	State       types.State `json:"state"`
	Data        any         `json:"data"`
	FetchedAt   *time.Time  `json:"fetchedAt"`
	Error       string      `json:"error,omitempty"`
	Code        int         `json:"code,omitempty"`
	Version     uint64      `json:"version"`
	Subscribers int         `json:"subscribers"`
}

func viewOf(ent types.CacheEntry, subscribers int) EntryView {
	v := EntryView{
		Key:         ent.Key,
		State:       ent.State,
		Data:        ent.Data,
		Version:     ent.Version,
		Subscribers: subscribers,
	}
	if !ent.FetchedAt.IsZero() {
		t := ent.FetchedAt
		v.FetchedAt = &t
	}
	v.Error, v.Code = describe(ent.Err)
	return v
}

func entryMessage(panel string, ent types.CacheEntry, fs freshness.State) Message {
	m := Message{
		Type:          TypeEntry,
		Panel:         panel,
		Key:           ent.Key,
		State:         ent.State.String(),
		Data:          ent.Data,
		Version:       ent.Version,
		ChangedFields: fs.ChangedFields,
		Highlight:     fs.Highlight,
	}
	if !ent.FetchedAt.IsZero() {
		t := ent.FetchedAt
		m.FetchedAt = &t
	}
	m.Error, m.Code = describe(ent.Err)
	return m
}

func describe(err error) (string, int) {
	if err == nil {
		return "", 0
	}
	var fe *types.FetchError
	if errors.As(err, &fe) {
		return fe.Message, fe.Code
	}
	return err.Error(), 0
}
