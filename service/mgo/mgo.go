package mgo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/config"
)

// Connect dials mongo and pings it before handing the database back.
func Connect(ctx context.Context, cfg config.MongoConfig) (*mongo.Database, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(dialCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, errors.WithMessage(err, "mongo connect")
	}
	if err := cli.Ping(dialCtx, readpref.Primary()); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.WithMessage(err, "mongo ping")
	}
	return cli.Database(cfg.Database), nil
}
