package persistence

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aquamarinepk/evbus/config"
	"github.com/aquamarinepk/evbus/log"
)

// sessionDoc is the BSON shape stored per client, grounded on
// auth/mongo's flat-document-per-entity style.
type sessionDoc struct {
	ClientID  string    `bson:"_id"`
	Patterns  []string  `bson:"patterns"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore is a Store backed by a `sessions` collection.
type MongoStore struct {
	cfg    config.PersistenceConfig
	log    log.Logger
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoStore returns a store that will connect and select its
// collection on Start.
func NewMongoStore(cfg config.PersistenceConfig, logger log.Logger) *MongoStore {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &MongoStore{cfg: cfg, log: logger.With("component", "persistence", "driver", "mongo")}
}

func (s *MongoStore) Start(ctx context.Context) error {
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", s.cfg.User, s.cfg.Password, s.cfg.Host, s.cfg.Port)
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("persistence: cannot connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return fmt.Errorf("persistence: cannot ping mongo: %w", err)
	}

	s.client = client
	s.coll = client.Database(s.cfg.Database).Collection("client_sessions")
	s.log.Info("persistence connection established")
	return nil
}

func (s *MongoStore) Stop(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	s.log.Info("closing persistence connection")
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Save(ctx context.Context, session Session) error {
	doc := sessionDoc{
		ClientID:  session.ClientID,
		Patterns:  session.Patterns,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	filter := bson.M{"_id": session.ClientID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	_, err := s.coll.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("persistence: save session: %w", err)
	}
	return nil
}

func (s *MongoStore) Load(ctx context.Context, clientID string) (Session, error) {
	filter := bson.M{"_id": clientID}
	var doc sessionDoc
	err := s.coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("persistence: load session: %w", err)
	}
	return Session{
		ClientID:  doc.ClientID,
		Patterns:  doc.Patterns,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (s *MongoStore) Delete(ctx context.Context, clientID string) error {
	filter := bson.M{"_id": clientID}
	_, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("persistence: delete session: %w", err)
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
