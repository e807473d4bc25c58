package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arnabghosh/delayed-queue/internal/domain"
	"github.com/arnabghosh/delayed-queue/internal/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// messageDocument is the persisted shape of a domain.Message
type messageDocument struct {
	ObjectID    primitive.ObjectID `bson:"_id,omitempty"`
	MessageID   string             `bson:"message_id"`
	DedupKey    string             `bson:"dedup_key,omitempty"`
	Content     string             `bson:"content"`
	Topic       string             `bson:"topic"`
	CreatedAt   time.Time          `bson:"created_at"`
	DueAt       time.Time          `bson:"due_at"`
	ProcessedAt *time.Time         `bson:"processed_at,omitempty"`
	Status      string             `bson:"status"`
}

func toDocument(m *domain.Message) messageDocument {
	return messageDocument{
		MessageID:   m.MessageID,
		DedupKey:    m.DedupKey,
		Content:     m.Content,
		Topic:       m.Topic,
		CreatedAt:   m.CreatedAt,
		DueAt:       m.DueAt,
		ProcessedAt: m.ProcessedAt,
		Status:      string(m.Status),
	}
}

func (d messageDocument) toDomain() *domain.Message {
	return &domain.Message{
		ID:          d.ObjectID.Hex(),
		MessageID:   d.MessageID,
		DedupKey:    d.DedupKey,
		Content:     d.Content,
		Topic:       d.Topic,
		CreatedAt:   d.CreatedAt,
		DueAt:       d.DueAt,
		ProcessedAt: d.ProcessedAt,
		Status:      domain.Status(d.Status),
	}
}

// MessageRepository implements storage.MessageRepository using MongoDB
type MessageRepository struct {
	client     *mongo.Client
	database   string
	collection string
}

// NewMessageRepository creates a new MongoDB-backed message repository and ensures its indexes
func NewMessageRepository(mongoURI, database, collection string) (*MessageRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(mongoURI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	r := &MessageRepository{
		client:     client,
		database:   database,
		collection: collection,
	}

	if err := r.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return r, nil
}

func (r *MessageRepository) coll() *mongo.Collection {
	return r.client.Database(r.database).Collection(r.collection)
}

// EnsureIndexes creates the lookup indexes used by the engine
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "topic", Value: 1}, {Key: "status", Value: 1}, {Key: "due_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "topic", Value: 1}, {Key: "dedup_key", Value: 1}},
		},
	}

	if _, err := r.coll().Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Save inserts a new message
func (r *MessageRepository) Save(ctx context.Context, msg *domain.Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	res, err := r.coll().InsertOne(ctx, toDocument(msg))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: message_id %s", domain.ErrDuplicate, msg.MessageID)
		}
		return fmt.Errorf("%w: failed to insert message: %w", domain.ErrDatabaseError, err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid.Hex()
	}
	return nil
}

// FindByMessageID retrieves a message by its message ID
func (r *MessageRepository) FindByMessageID(ctx context.Context, messageID string) (*domain.Message, error) {
	var doc messageDocument
	err := r.coll().FindOne(ctx, bson.M{"message_id": messageID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("%w: failed to get message: %w", domain.ErrDatabaseError, err)
	}
	return doc.toDomain(), nil
}

// FindByDedupKey returns the topic's messages carrying dedupKey
func (r *MessageRepository) FindByDedupKey(ctx context.Context, dedupKey, topic string) ([]*domain.Message, error) {
	return r.find(ctx, bson.M{"dedup_key": dedupKey, "topic": topic})
}

// UpdateStatus applies a compare-and-set status transition in a single UpdateOne
func (r *MessageRepository) UpdateStatus(ctx context.Context, messageID string, to domain.Status, from ...domain.Status) (bool, error) {
	if !to.Valid() {
		return false, domain.ErrValidationFailed
	}

	filter := bson.M{"message_id": messageID}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": statusStrings(from)}
	}

	set := bson.M{"status": string(to)}
	if to == domain.StatusDone {
		set["processed_at"] = time.Now()
	}

	res, err := r.coll().UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, fmt.Errorf("%w: failed to update message status: %w", domain.ErrDatabaseError, err)
	}
	return res.MatchedCount > 0, nil
}

// FindPending returns the topic's messages in the given statuses
func (r *MessageRepository) FindPending(ctx context.Context, topic string, statuses ...domain.Status) ([]*domain.Message, error) {
	return r.find(ctx, bson.M{
		"topic":  topic,
		"status": bson.M{"$in": statusStrings(storage.PendingStatuses(statuses))},
	})
}

// FindOverdue returns the topic's PENDING messages due at or before asOf
func (r *MessageRepository) FindOverdue(ctx context.Context, topic string, asOf time.Time) ([]*domain.Message, error) {
	return r.find(ctx, bson.M{
		"topic":  topic,
		"status": string(domain.StatusPending),
		"due_at": bson.M{"$lte": asOf},
	})
}

// DeleteByMessageID removes a message
func (r *MessageRepository) DeleteByMessageID(ctx context.Context, messageID string) (bool, error) {
	res, err := r.coll().DeleteOne(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete message: %w", domain.ErrDatabaseError, err)
	}
	return res.DeletedCount > 0, nil
}

// CountByStatus counts the topic's messages in a status
func (r *MessageRepository) CountByStatus(ctx context.Context, topic string, status domain.Status) (int64, error) {
	count, err := r.coll().CountDocuments(ctx, bson.M{"topic": topic, "status": string(status)})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count messages: %w", domain.ErrDatabaseError, err)
	}
	return count, nil
}

// Close closes the MongoDB connection
func (r *MessageRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M) ([]*domain.Message, error) {
	// Sort by due time ascending
	opts := options.Find().SetSort(bson.D{{Key: "due_at", Value: 1}})

	cursor, err := r.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query messages: %w", domain.ErrDatabaseError, err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: failed to decode messages: %w", domain.ErrDatabaseError, err)
	}

	result := make([]*domain.Message, len(docs))
	for i := range docs {
		result[i] = docs[i].toDomain()
	}
	return result, nil
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
