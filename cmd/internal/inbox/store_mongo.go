package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	mongoMessagesCollection      = "messages"
	mongoConversationsCollection = "conversations"
)

// MongoStore is a Store backed by MongoDB.
//
// The store does not own the client; Close is a no-op and the caller disconnects.
// Documents use the field names of the webhook payload (phone, message, isFromBot).
type MongoStore struct {
	db *mongo.Database
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	Phone     string    `bson:"phone"`
	Name      string    `bson:"name"`
	Message   string    `bson:"message"`
	Timestamp time.Time `bson:"timestamp"`
	IsFromBot bool      `bson:"isFromBot"`
	CreatedAt time.Time `bson:"createdAt"`
}

type conversationDoc struct {
	Phone         string    `bson:"phone"`
	Name          string    `bson:"name"`
	LastMessage   string    `bson:"lastMessage"`
	LastTimestamp time.Time `bson:"lastTimestamp"`
	UnreadCount   int64     `bson:"unreadCount"`
	CreatedAt     time.Time `bson:"createdAt"`
	UpdatedAt     time.Time `bson:"updatedAt"`
}

// NewMongoStore constructs a Mongo-backed Store on db.
func NewMongoStore(db *mongo.Database) (*MongoStore, error) {
	if db == nil {
		return nil, errors.New("inbox: nil mongo database")
	}
	return &MongoStore{db: db}, nil
}

func (s *MongoStore) messages() *mongo.Collection {
	return s.db.Collection(mongoMessagesCollection)
}

func (s *MongoStore) conversations() *mongo.Collection {
	return s.db.Collection(mongoConversationsCollection)
}

// Close is a no-op; the caller owns the client.
func (s *MongoStore) Close() error { return nil }

// Ping checks the server connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return storageErr("inbox.MongoStore.Ping", err)
	}
	return nil
}

// EnsureIndexes creates the unique contact index and the ordering indexes.
// The unique index is what makes concurrent first upserts collapse into one document.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	const op = "inbox.MongoStore.EnsureIndexes"

	indexes := map[string][]mongo.IndexModel{
		mongoMessagesCollection: {
			{Keys: bson.D{{Key: "phone", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		},
		mongoConversationsCollection: {
			{
				Keys:    bson.D{{Key: "phone", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("unique_phone"),
			},
			{Keys: bson.D{{Key: "lastTimestamp", Value: -1}}},
		},
	}
	for coll, models := range indexes {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return storageErr(op, fmt.Errorf("create indexes on %s: %w", coll, err))
		}
	}
	return nil
}

// AppendMessage inserts a message document under a fresh ULID.
func (s *MongoStore) AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error) {
	const op = "inbox.MongoStore.AppendMessage"
	if err := in.validate(op); err != nil {
		return Message{}, err
	}

	now := time.Now().UTC()
	id, err := NewMessageID(now)
	if err != nil {
		return Message{}, storageErr(op, err)
	}

	doc := messageDoc{
		ID:        id,
		Phone:     in.Contact,
		Name:      in.Name,
		Message:   in.Body,
		Timestamp: in.Timestamp.UTC().Truncate(time.Millisecond),
		IsFromBot: in.IsReply,
		CreatedAt: now,
	}
	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		return Message{}, storageErr(op, err)
	}
	return doc.toMessage(), nil
}

// ListByContact returns the newest limit messages of contact, newest first.
func (s *MongoStore) ListByContact(ctx context.Context, contact string, limit int) ([]Message, error) {
	const op = "inbox.MongoStore.ListByContact"
	limit = NormalizeLimit(limit)

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.messages().Find(ctx, bson.M{"phone": contact}, opts)
	if err != nil {
		return nil, storageErr(op, err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr(op, err)
	}

	out := make([]Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMessage())
	}
	return out, nil
}

// DeleteByContact removes every message of contact.
func (s *MongoStore) DeleteByContact(ctx context.Context, contact string) (int64, error) {
	res, err := s.messages().DeleteMany(ctx, bson.M{"phone": contact})
	if err != nil {
		return 0, storageErr("inbox.MongoStore.DeleteByContact", err)
	}
	return res.DeletedCount, nil
}

// UpsertConversation is a single findOneAndUpdate with $set, $inc and upsert.
//
// Two concurrent first upserts can both miss and both try to insert; the unique index
// rejects one of them and the retry lands on the update path.
func (s *MongoStore) UpsertConversation(ctx context.Context, in UpsertConversationInput) (Conversation, error) {
	const op = "inbox.MongoStore.UpsertConversation"
	if err := in.validate(op); err != nil {
		return Conversation{}, err
	}

	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"name":          in.Name,
			"lastMessage":   in.LastBody,
			"lastTimestamp": in.LastTimestamp.UTC(),
			"updatedAt":     now,
		},
		"$inc":         bson.M{"unreadCount": 1},
		"$setOnInsert": bson.M{"createdAt": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc conversationDoc
	err := s.conversations().FindOneAndUpdate(ctx, bson.M{"phone": in.Contact}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		err = s.conversations().FindOneAndUpdate(ctx, bson.M{"phone": in.Contact}, update, opts).Decode(&doc)
	}
	if err != nil {
		return Conversation{}, storageErr(op, err)
	}
	return doc.toConversation(), nil
}

// ListConversations returns every conversation, most recent first.
func (s *MongoStore) ListConversations(ctx context.Context) ([]Conversation, error) {
	const op = "inbox.MongoStore.ListConversations"

	opts := options.Find().SetSort(bson.D{{Key: "lastTimestamp", Value: -1}, {Key: "phone", Value: 1}})
	cur, err := s.conversations().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, storageErr(op, err)
	}
	var docs []conversationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, storageErr(op, err)
	}

	out := make([]Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toConversation())
	}
	return out, nil
}

// MarkRead resets unreadCount; unknown contacts match nothing.
func (s *MongoStore) MarkRead(ctx context.Context, contact string) error {
	_, err := s.conversations().UpdateOne(ctx,
		bson.M{"phone": contact},
		bson.M{"$set": bson.M{"unreadCount": 0, "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return storageErr("inbox.MongoStore.MarkRead", err)
	}
	return nil
}

// DeleteConversation removes the contact's document; unknown contacts match nothing.
func (s *MongoStore) DeleteConversation(ctx context.Context, contact string) error {
	if _, err := s.conversations().DeleteOne(ctx, bson.M{"phone": contact}); err != nil {
		return storageErr("inbox.MongoStore.DeleteConversation", err)
	}
	return nil
}

func (d messageDoc) toMessage() Message {
	return Message{
		ID:        d.ID,
		Contact:   d.Phone,
		Name:      d.Name,
		Body:      d.Message,
		Timestamp: d.Timestamp.UTC(),
		IsReply:   d.IsFromBot,
	}
}

func (d conversationDoc) toConversation() Conversation {
	return Conversation{
		Contact:       d.Phone,
		Name:          d.Name,
		LastBody:      d.LastMessage,
		LastTimestamp: d.LastTimestamp.UTC(),
		UnreadCount:   d.UnreadCount,
		CreatedAt:     d.CreatedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
}
