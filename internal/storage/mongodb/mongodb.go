package mongodb

import (
	"context"
	"fmt"

	"github.com/makkenzo/redeem-key-service/internal/config"
	"github.com/makkenzo/redeem-key-service/internal/storage/connector"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const keyIndexName = "key_unique"

// Session is a connected client plus the key collection it serves.
type Session struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ connector.Session[*mongo.Collection] = (*Session)(nil)

// Dialer returns a connector.DialFunc that opens a new client per attempt.
func Dialer(cfg *config.MongoConfig, opts connector.Options) connector.DialFunc[*mongo.Collection] {
	return func(ctx context.Context) (connector.Session[*mongo.Collection], error) {
		clientOpts := options.Client().
			ApplyURI(cfg.URI).
			SetConnectTimeout(opts.ConnectTimeout).
			SetServerSelectionTimeout(opts.ConnectTimeout)

		client, err := mongo.Connect(ctx, clientOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create mongo client: %w", err)
		}

		return &Session{
			client: client,
			coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		}, nil
	}
}

func (s *Session) Handle() *mongo.Collection { return s.coll }

func (s *Session) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Session) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: fieldKey, Value: 1}},
		Options: options.Index().SetUnique(true).SetName(keyIndexName),
	})
	if err != nil {
		return fmt.Errorf("failed to create unique index on %q: %w", fieldKey, err)
	}
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
