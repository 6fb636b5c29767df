// Package model defines the synchronized record types shared by the server
// store and the client cache, together with the sync wire shapes.
package model

import "encoding/json"

// Kind classifies a synchronized record.
type Kind string

const (
	KindChat        Kind = "chats"
	KindMessage     Kind = "messages"
	KindModelConfig Kind = "modelConfigs"
)

// Kinds lists every synchronized record kind.
var Kinds = []Kind{KindChat, KindMessage, KindModelConfig}

// Valid reports whether k is a known record kind.
func (k Kind) Valid() bool {
	switch k {
	case KindChat, KindMessage, KindModelConfig:
		return true
	}
	return false
}

// State describes a change or a delta entry.
type State string

const (
	StateUpdated State = "updated"
	StateDeleted State = "deleted"
)

// Record is a versioned, owned, soft-deletable entity. Deleting flips the
// Deleted flag and bumps UpdatedAt; rows are never removed so delta pulls
// always see the tombstone.
type Record struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"-"`
	Kind      Kind            `json:"kind"`
	Deleted   bool            `json:"deleted"`
	UpdatedAt int64           `json:"updatedAt"`
	CreatedAt int64           `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// State maps the tombstone flag to a delta state.
func (r *Record) State() State {
	if r.Deleted {
		return StateDeleted
	}
	return StateUpdated
}

// ChatPayload is the payload body of a chat record.
type ChatPayload struct {
	Title string `json:"title"`
}

// MessagePayload is the payload body of a message record. StreamID is only
// set while an assistant response is being generated; it points at the
// ephemeral stream buffer, which is not part of the synced record set.
type MessagePayload struct {
	Content   string `json:"content"`
	ChatID    string `json:"chatId"`
	From      string `json:"from"` // "user" or "assistant"
	Streaming bool   `json:"streaming,omitempty"`
	StreamID  string `json:"streamId,omitempty"`
}

// ModelConfigPayload selects a provider model and carries the key used to
// call it. The key is sensitive: it is envelope-encrypted at rest and must
// never be logged.
type ModelConfigPayload struct {
	ProviderModelID string `json:"providerModelId"`
	APIKey          string `json:"apiKey"`
}

// Change is one client-side mutation submitted during sync.
type Change struct {
	ID      string          `json:"id"`
	State   State           `json:"state"`
	Payload json.RawMessage `json:"payload"`
}

// SyncRequest is the sync endpoint request body: the client's cursor plus
// its pending changes grouped by kind.
type SyncRequest struct {
	Cursor  int64             `json:"cursor,omitempty"`
	Changes map[Kind][]Change `json:"changesByKind,omitempty"`
}

// WireRecord is one record of a sync delta.
type WireRecord struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	State     State           `json:"state"`
	UpdatedAt int64           `json:"updatedAt"`
	CreatedAt int64           `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

// SyncResponse is the sync endpoint response: all records with
// updatedAt > request cursor, ascending, plus the new cursor.
// Cursor 0 signals the client to clear its persisted cursor.
type SyncResponse struct {
	Records []WireRecord `json:"records"`
	Cursor  int64        `json:"cursor"`
}
