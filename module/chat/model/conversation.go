package model

import (
	"time"
)

// Conversation carries the participant set plus the per-user delivery and
// read cursors. Cursors are monotonic high-water marks: every update goes
// through a $max merge, never an unconditional $set, so out-of-order receipt
// delivery cannot move them backwards.
type Conversation struct {
	ConversationID string   `bson:"_id" json:"conversationId"`
	Participants   []string `bson:"participants" json:"participants"`

	// user id -> high-water mark
	DeliveredUpTo map[string]time.Time `bson:"delivered_up_to,omitempty" json:"deliveredUpTo,omitempty"`
	ReadUpTo      map[string]time.Time `bson:"read_up_to,omitempty" json:"readUpTo,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt int64     `bson:"updated_at,omitempty" json:"-"`
}

// Cursor field names used by the store's $max updates.
const (
	CursorFieldDelivered = "delivered_up_to"
	CursorFieldRead      = "read_up_to"
)

func (Conversation) TableName() string { return "conversation" }
