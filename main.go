package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/config"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/middleware"
	chatmsg "github.com/ShanXtet/Android-Instant-Messaging-sub001/module/chat/message"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/service/chat"
	kafkadisp "github.com/ShanXtet/Android-Instant-Messaging-sub001/service/dispatcher/kafka"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/service/mgo"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/service/storage"
	redissrv "github.com/ShanXtet/Android-Instant-Messaging-sub001/service/storage/redis"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/ids"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/security"
)

func main() {
	cfg := config.FromEnv()
	ids.SetNodeID(cfg.NodeID)

	gwID := os.Getenv("GATEWAY_ID")
	if gwID == "" {
		gwID = "msg_gw-1"
	}

	ctx := context.Background()

	db, err := mgo.Connect(ctx, cfg.Mongo)
	if err != nil {
		logger.Errorf("[boot] mongo unavailable: %v", err)
		os.Exit(1)
	}
	store := chatmsg.NewStore(db)

	// presence mirror is optional: without redis the gateway still runs, it
	// just loses the delivered-receipt backlog and the shared presence keys
	var mirror storage.Mirror
	if rdb, rerr := redissrv.New(cfg.Redis); rerr != nil {
		logger.Warnf("[boot] redis unavailable, presence mirror disabled: %v", rerr)
	} else {
		mirror = storage.NewRedisMirror(rdb)
	}

	var offline chat.OfflinePublisher
	if cfg.Kafka.Enabled {
		prod, kerr := kafkadisp.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OfflineTopic)
		if kerr != nil {
			logger.Warnf("[boot] kafka unavailable, offline push disabled: %v", kerr)
		} else {
			offline = prod
			defer func() { _ = prod.Close() }()
		}
	}

	srv := chat.NewServer(chat.Deps{
		Store:       store,
		Verifier:    security.NewHMACVerifier(security.Options{Secret: cfg.JWTSecret, Alg: cfg.JWTAlg}),
		Mirror:      mirror,
		Offline:     offline,
		GatewayID:   gwID,
		QueueSize:   cfg.SendQueueSize,
		PresenceTTL: cfg.PresenceTTL,
	})

	r := gin.Default()
	r.Use(middleware.Origin())
	srv.Routes(r)

	logger.Infof("[boot] gateway %s listening on %s", gwID, cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		logger.Errorf("[boot] server stopped: %v", err)
		os.Exit(1)
	}
}
