package message

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	chatmodel "github.com/ShanXtet/Android-Instant-Messaging-sub001/module/chat/model"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
)

// Store is the mongo-backed message/conversation collaborator of the relay.
type Store struct {
	MsgColl  *mongo.Collection
	ConvColl *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{
		MsgColl:  db.Collection(chatmodel.Message{}.TableName()),
		ConvColl: db.Collection(chatmodel.Conversation{}.TableName()),
	}
}

func (s *Store) SaveMessage(ctx context.Context, m *chatmodel.Message) (*chatmodel.Message, error) {
	if _, err := s.MsgColl.InsertOne(ctx, m); err != nil {
		return nil, errs.ErrUpstream.WrapMsg("insert message", "id", m.ID)
	}
	return m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*chatmodel.Message, error) {
	var m chatmodel.Message
	err := s.MsgColl.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	if err != nil {
		return nil, errs.ErrUpstream.WrapMsg("find message", "id", id)
	}
	return &m, nil
}

func (s *Store) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var c chatmodel.Conversation
	err := s.ConvColl.FindOne(ctx, bson.M{"_id": conversationID},
		options.FindOne().SetProjection(bson.M{"participants": 1})).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	if err != nil {
		return nil, errs.ErrUpstream.WrapMsg("find conversation", "id", conversationID)
	}
	return c.Participants, nil
}

// AdvanceDeliveredCursor merges the delivery high-water mark forward. $max
// keeps the cursor monotonic under out-of-order receipts.
func (s *Store) AdvanceDeliveredCursor(ctx context.Context, conversationID, userID string, at time.Time) error {
	return s.advanceCursor(ctx, conversationID, chatmodel.CursorFieldDelivered, userID, at)
}

// AdvanceReadCursor merges the read high-water mark forward.
func (s *Store) AdvanceReadCursor(ctx context.Context, conversationID, userID string, at time.Time) error {
	return s.advanceCursor(ctx, conversationID, chatmodel.CursorFieldRead, userID, at)
}

func (s *Store) advanceCursor(ctx context.Context, conversationID, field, userID string, at time.Time) error {
	_, err := s.ConvColl.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{
			"$max": bson.M{field + "." + userID: at},
			"$set": bson.M{"updated_at": time.Now().UnixMilli()},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return errs.ErrUpstream.WrapMsg("advance cursor", "conv", conversationID, "field", field)
	}
	return nil
}

// MarkMessagesAsRead tags the reader onto specific messages, or onto every
// message in the conversation they did not send when ids are omitted.
func (s *Store) MarkMessagesAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error {
	filter := bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": userID},
	}
	if len(messageIDs) > 0 {
		filter["_id"] = bson.M{"$in": messageIDs}
	}
	_, err := s.MsgColl.UpdateMany(ctx, filter,
		bson.M{"$addToSet": bson.M{"read_by": userID}})
	if err != nil {
		return errs.ErrUpstream.WrapMsg("mark messages read", "conv", conversationID)
	}
	return nil
}
