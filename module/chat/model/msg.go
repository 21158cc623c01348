package model

import (
	"time"
)

// Message is the persisted chat message. The relay treats it as immutable
// once stored; only sender/conversation/created_at feed cursor updates.
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	SenderID       string    `bson:"sender_id" json:"senderId"`
	Recipients     []string  `bson:"recipients,omitempty" json:"recipients,omitempty"`
	Content        string    `bson:"content" json:"content"`
	ContentType    string    `bson:"content_type" json:"type"`
	Media          *MediaRef `bson:"media,omitempty" json:"media,omitempty"`
	ReplyTo        string    `bson:"reply_to,omitempty" json:"replyTo,omitempty"`
	ReadBy         []string  `bson:"read_by,omitempty" json:"-"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}

// MediaRef points at an already-uploaded attachment; upload handling lives
// outside the gateway.
type MediaRef struct {
	URL      string `bson:"url" json:"url"`
	MimeType string `bson:"mime_type,omitempty" json:"mimeType,omitempty"`
	Size     int64  `bson:"size,omitempty" json:"size,omitempty"`
}

func (Message) TableName() string { return "message" }
