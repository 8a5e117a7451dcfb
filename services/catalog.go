package services

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"learnhub/realtime-service/models"
)

var (
	ErrCourseNotFound = errors.New("course not found")
	ErrMentorNotFound = errors.New("mentor not found")
)

// CourseCatalog resolves the course and mentor records owned by the
// catalog service.
type CourseCatalog interface {
	Course(ctx context.Context, courseID string) (*models.CourseRef, error)
	Mentor(ctx context.Context, mentorID string) (*models.MentorRef, error)
	MentorByUser(ctx context.Context, userID string) (*models.MentorRef, error)
}

// UserDirectory resolves public user profiles for response enrichment.
// Unknown ids are left out of the result.
type UserDirectory interface {
	Users(ctx context.Context, userIDs []string) (map[string]models.UserSummary, error)
}

// idFilter matches documents keyed by ObjectID, falling back to a plain
// string id for records created outside the main application.
func idFilter(field, id string) bson.M {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return bson.M{field: oid}
	}
	return bson.M{field: id}
}

func hexOrString(v interface{}) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	default:
		return ""
	}
}

// MongoCatalog reads the shared courses, mentors and users collections.
type MongoCatalog struct {
	courses *mongo.Collection
	mentors *mongo.Collection
	users   *mongo.Collection
}

func NewMongoCatalog(db *mongo.Database) *MongoCatalog {
	return &MongoCatalog{
		courses: db.Collection("courses"),
		mentors: db.Collection("mentors"),
		users:   db.Collection("users"),
	}
}

type courseDocument struct {
	ID     interface{} `bson:"_id"`
	Name   string      `bson:"name"`
	Mentor interface{} `bson:"mentor"`
}

type mentorDocument struct {
	ID   interface{} `bson:"_id"`
	User interface{} `bson:"user"`
}

type userDocument struct {
	ID     interface{} `bson:"_id"`
	Name   string      `bson:"name"`
	Avatar struct {
		URL string `bson:"url"`
	} `bson:"avatar"`
}

func (c *MongoCatalog) Course(ctx context.Context, courseID string) (*models.CourseRef, error) {
	var doc courseDocument
	opts := options.FindOne().SetProjection(bson.M{"name": 1, "mentor": 1})
	if err := c.courses.FindOne(ctx, idFilter("_id", courseID), opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCourseNotFound
		}
		return nil, errors.Wrap(err, "failed to load course")
	}
	return &models.CourseRef{
		ID:       hexOrString(doc.ID),
		Name:     doc.Name,
		MentorID: hexOrString(doc.Mentor),
	}, nil
}

func (c *MongoCatalog) Mentor(ctx context.Context, mentorID string) (*models.MentorRef, error) {
	return c.findMentor(ctx, idFilter("_id", mentorID))
}

func (c *MongoCatalog) MentorByUser(ctx context.Context, userID string) (*models.MentorRef, error) {
	return c.findMentor(ctx, idFilter("user", userID))
}

func (c *MongoCatalog) findMentor(ctx context.Context, filter bson.M) (*models.MentorRef, error) {
	var doc mentorDocument
	opts := options.FindOne().SetProjection(bson.M{"user": 1})
	if err := c.mentors.FindOne(ctx, filter, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrMentorNotFound
		}
		return nil, errors.Wrap(err, "failed to load mentor")
	}
	return &models.MentorRef{
		ID:     hexOrString(doc.ID),
		UserID: hexOrString(doc.User),
	}, nil
}

func (c *MongoCatalog) Users(ctx context.Context, userIDs []string) (map[string]models.UserSummary, error) {
	result := make(map[string]models.UserSummary, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	ids := make([]interface{}, 0, len(userIDs))
	for _, id := range userIDs {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			ids = append(ids, oid)
		} else {
			ids = append(ids, id)
		}
	}

	opts := options.Find().SetProjection(bson.M{"name": 1, "avatar": 1})
	cursor, err := c.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}}, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load users")
	}

	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "failed to decode users")
	}

	for _, doc := range docs {
		id := hexOrString(doc.ID)
		result[id] = models.UserSummary{ID: id, Name: doc.Name, Avatar: doc.Avatar.URL}
	}
	return result, nil
}

// MemoryCatalog is an in-process CourseCatalog and UserDirectory.
type MemoryCatalog struct {
	mu      sync.RWMutex
	courses map[string]models.CourseRef
	mentors map[string]models.MentorRef
	users   map[string]models.UserSummary
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		courses: make(map[string]models.CourseRef),
		mentors: make(map[string]models.MentorRef),
		users:   make(map[string]models.UserSummary),
	}
}

func (c *MemoryCatalog) AddCourse(course models.CourseRef) {
	c.mu.Lock()
	c.courses[course.ID] = course
	c.mu.Unlock()
}

func (c *MemoryCatalog) AddMentor(mentor models.MentorRef) {
	c.mu.Lock()
	c.mentors[mentor.ID] = mentor
	c.mu.Unlock()
}

func (c *MemoryCatalog) AddUser(user models.UserSummary) {
	c.mu.Lock()
	c.users[user.ID] = user
	c.mu.Unlock()
}

func (c *MemoryCatalog) Course(ctx context.Context, courseID string) (*models.CourseRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	course, ok := c.courses[courseID]
	if !ok {
		return nil, ErrCourseNotFound
	}
	return &course, nil
}

func (c *MemoryCatalog) Mentor(ctx context.Context, mentorID string) (*models.MentorRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	mentor, ok := c.mentors[mentorID]
	if !ok {
		return nil, ErrMentorNotFound
	}
	return &mentor, nil
}

func (c *MemoryCatalog) MentorByUser(ctx context.Context, userID string) (*models.MentorRef, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, mentor := range c.mentors {
		if mentor.UserID == userID {
			m := mentor
			return &m, nil
		}
	}
	return nil, ErrMentorNotFound
}

func (c *MemoryCatalog) Users(ctx context.Context, userIDs []string) (map[string]models.UserSummary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]models.UserSummary, len(userIDs))
	for _, id := range userIDs {
		if u, ok := c.users[id]; ok {
			result[id] = u
		}
	}
	return result, nil
}
