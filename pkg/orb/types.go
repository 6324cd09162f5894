// Package orb implements the object store: UUID-keyed data blobs linked
// into chains, with metadata tracked separately (spec §3, §4.6).
package orb

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DataSubtype distinguishes how OrbData.Data should be interpreted.
type DataSubtype string

const (
	// DataSubtypeJSON marks Data as a JSON document.
	DataSubtypeJSON DataSubtype = "@json"
	// DataSubtypeRaw marks Data as an opaque base64-ish byte payload,
	// kept for compatibility with legacy byte-oriented PushData callers
	// (SPEC_FULL.md §4.7, Open Question 3).
	DataSubtypeRaw DataSubtype = "@raw"
)

// OrbData is a single stored object, optionally linked to neighbors and a
// parent, forming the chains spec §3 describes.
type OrbData struct {
	UUID        uuid.UUID       `json:"u"`
	DataType    DataSubtype     `json:"data_type"`
	Source      string          `json:"src,omitempty"`
	ChainLeft   *uuid.UUID      `json:"chain_left,omitempty"`
	ChainRight  *uuid.UUID      `json:"chain_right,omitempty"`
	Parent      *uuid.UUID      `json:"parent,omitempty"`
	CreatedAt   time.Time       `json:"ctime"`
	Flags       []string        `json:"flags,omitempty"`
	Data        json.RawMessage `json:"data"`
}

// OrbMeta is a denormalized, append-only metadata record tracking an
// OrbData's lifecycle events (spec §4.6).
type OrbMeta struct {
	ID        int64       `json:"id"`
	UUID      uuid.UUID   `json:"u"`
	DataType  DataSubtype `json:"data_type"`
	CreatedAt time.Time   `json:"ctime"`
	Flags     []string    `json:"flags,omitempty"`
	Handle    int64       `json:"handle"`
}

// PushDataRequest is the body of a push-data call. A zero/absent UUID means
// insert a new object; a populated UUID means update the existing row with
// that primary key (spec §4.6).
type PushDataRequest struct {
	UUID       uuid.UUID       `json:"u,omitempty"`
	DataType   DataSubtype     `json:"data_type,omitempty"`
	Source     string          `json:"src,omitempty"`
	ChainLeft  *uuid.UUID      `json:"chain_left,omitempty"`
	ChainRight *uuid.UUID      `json:"chain_right,omitempty"`
	Parent     *uuid.UUID      `json:"parent,omitempty"`
	Flags      []string        `json:"flags,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// PushDataResponse is the reply to a successful push-data call.
type PushDataResponse struct {
	UUID   uuid.UUID `json:"u"`
	Handle int64     `json:"handle"`
}

// PushMetaRequest is the body of a push-meta call: it records a lifecycle
// event against an already-stored OrbData.
type PushMetaRequest struct {
	UUID  uuid.UUID `json:"u"`
	Flags []string  `json:"flags,omitempty"`
}
