package kafka

import (
	"time"

	"github.com/Shopify/sarama"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
)

// Producer publishes offline-push envelopes. Delivery to the actual push
// provider happens downstream of the topic; this is the full extent of the
// gateway's involvement.
type Producer struct {
	ap    sarama.AsyncProducer
	topic string
}

func baseConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // key keeps a user on one partition
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	return cfg
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	ap, err := sarama.NewAsyncProducer(brokers, baseConfig())
	if err != nil {
		return nil, err
	}
	p := &Producer{ap: ap, topic: topic}
	go func() {
		for perr := range ap.Errors() {
			logger.Errorf("[kafka] offline publish failed: %v", perr.Err)
		}
	}()
	return p, nil
}

// PublishOffline is fire-and-forget; a full queue drops the envelope rather
// than blocking a message-relay handler.
func (p *Producer) PublishOffline(userID string, payload []byte) {
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(userID),
		Value: sarama.ByteEncoder(payload),
	}
	select {
	case p.ap.Input() <- msg:
	default:
		logger.Warnf("[kafka] producer queue full, dropped offline envelope user=%s", userID)
	}
}

func (p *Producer) Close() error {
	return p.ap.Close()
}
