package services

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"learnhub/realtime-service/models"
)

const (
	conversationsCollection = "conversations"
	markReadAttempts        = 5
)

// MongoStore keeps each conversation as one document with its messages
// embedded. A unique index on dedup_key makes find-or-create idempotent
// under concurrent callers.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		coll: db.Collection(conversationsCollection),
	}
}

// EnsureIndexes creates the uniqueness and lookup indexes.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "dedup_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_dedup_key"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participants_updated"),
		},
		{
			Keys:    bson.D{{Key: "scope.course_id", Value: 1}},
			Options: options.Index().SetName("scope_course"),
		},
		{
			Keys:    bson.D{{Key: "scope.mentor_id", Value: 1}},
			Options: options.Index().SetName("scope_mentor"),
		},
	}

	if _, err := s.coll.Indexes().CreateMany(ctx, indexes); err != nil {
		return errors.Wrap(err, "failed to create conversation indexes")
	}
	return nil
}

func (s *MongoStore) FindOrCreateDirect(ctx context.Context, userA, userB string, scope models.ConversationScope) (*models.Conversation, error) {
	if err := validateDirectPair(userA, userB); err != nil {
		return nil, err
	}
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	key := models.DirectDedupKey(userA, userB, scope)
	now := nowUTC()

	update := bson.M{
		"$setOnInsert": bson.M{
			"kind":         models.ConversationDirect,
			"participants": []string{userA, userB},
			"scope":        scope,
			"messages":     []models.Message{},
			"dedup_key":    key,
			"version":      int64(0),
			"created_at":   now,
			"updated_at":   now,
		},
	}

	if _, err := s.upsert(ctx, key, update); err != nil {
		return nil, err
	}
	return s.getByKey(ctx, key)
}

func (s *MongoStore) FindOrCreateGroup(ctx context.Context, scope models.ConversationScope, name string, participants []string, welcome *models.WelcomeMessage) (*models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidGroupName
	}
	key := models.GroupDedupKey(scope)
	participants = uniqueParticipants(participants)
	now := nowUTC()

	update := bson.M{
		"$setOnInsert": bson.M{
			"kind":       models.ConversationGroup,
			"name":       name,
			"scope":      scope,
			"messages":   []models.Message{},
			"dedup_key":  key,
			"created_at": now,
			"updated_at": now,
		},
		"$addToSet": bson.M{"participants": bson.M{"$each": participants}},
		"$inc":      bson.M{"version": 1},
	}

	created, err := s.upsert(ctx, key, update)
	if err != nil {
		return nil, err
	}

	conv, err := s.getByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if created && welcome != nil {
		if _, err := s.AppendMessage(ctx, conv.ID.Hex(), welcome.OwnerID, welcome.Content, nil); err != nil {
			return nil, errors.Wrap(err, "failed to add welcome message")
		}
		return s.getByKey(ctx, key)
	}
	return conv, nil
}

// upsert applies update to the document with dedup_key, inserting it when
// missing. A duplicate key error means a concurrent caller inserted first;
// the retry then matches that document.
func (s *MongoStore) upsert(ctx context.Context, key string, update bson.M) (bool, error) {
	filter := bson.M{"dedup_key": key}
	opts := options.Update().SetUpsert(true)

	res, err := s.coll.UpdateOne(ctx, filter, update, opts)
	if mongo.IsDuplicateKeyError(err) {
		res, err = s.coll.UpdateOne(ctx, filter, update, opts)
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to upsert conversation")
	}
	return res.UpsertedCount == 1, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, conversationID, senderID, content string, attachments []models.Attachment) (*models.Message, error) {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return nil, err
	}
	msg, err := newMessage(senderID, content, attachments)
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$push": bson.M{"messages": msg},
		"$set":  bson.M{"updated_at": msg.CreatedAt},
		"$inc":  bson.M{"version": 1},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, errors.Wrap(err, "failed to append message")
	}
	if res.MatchedCount == 0 {
		return nil, ErrConversationNotFound
	}
	return msg, nil
}

// MarkRead loads the conversation, applies the receipts in memory and
// replaces the document only if nobody changed it in between.
func (s *MongoStore) MarkRead(ctx context.Context, conversationID string, messageIDs []string, readerID string) error {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return err
	}
	oids := parseObjectIDs(messageIDs)

	for attempt := 0; attempt < markReadAttempts; attempt++ {
		conv, err := s.getByID(ctx, id, nil)
		if err != nil {
			return err
		}

		if applyReadReceipts(conv, oids, readerID) == 0 {
			return nil
		}

		loaded := conv.Version
		conv.Version++
		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": id, "version": loaded}, conv)
		if err != nil {
			return errors.Wrap(err, "failed to store read receipts")
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}

	return ErrWriteConflict
}

func (s *MongoStore) ListParticipants(ctx context.Context, conversationID string) ([]string, error) {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return nil, err
	}

	projection := options.FindOne().SetProjection(bson.M{"participants": 1})
	conv, err := s.getByID(ctx, id, projection)
	if err != nil {
		return nil, err
	}
	return conv.Participants, nil
}

func (s *MongoStore) ListForUser(ctx context.Context, userID string) (*models.UserConversations, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetProjection(bson.M{"messages": bson.M{"$slice": -1}})

	cursor, err := s.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}

	var convs []models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, errors.Wrap(err, "failed to decode conversations")
	}

	result := &models.UserConversations{
		Direct: []models.Conversation{},
		Group:  []models.Conversation{},
	}
	for _, conv := range convs {
		if conv.Kind == models.ConversationGroup {
			result.Group = append(result.Group, conv)
		} else {
			result.Direct = append(result.Direct, conv)
		}
	}
	return result, nil
}

func (s *MongoStore) Get(ctx context.Context, conversationID string) (*models.Conversation, error) {
	id, err := parseObjectID(conversationID)
	if err != nil {
		return nil, err
	}
	return s.getByID(ctx, id, nil)
}

func (s *MongoStore) getByID(ctx context.Context, id primitive.ObjectID, opts *options.FindOneOptions) (*models.Conversation, error) {
	var conv models.Conversation
	var err error
	if opts != nil {
		err = s.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&conv)
	} else {
		err = s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	}
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrap(err, "failed to load conversation")
	}
	return &conv, nil
}

func (s *MongoStore) getByKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.coll.FindOne(ctx, bson.M{"dedup_key": key}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrConversationNotFound
		}
		return nil, errors.Wrap(err, "failed to load conversation")
	}
	return &conv, nil
}
