// internal/service/inventory/infrastructure/adapter/kafka_publisher.go
package adapter

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/segmentio/kafka-go"

	"stockpile/internal/pkg/mq"
	"stockpile/internal/service/inventory/domain"
)

// StockEventKafkaPublisher 是 domain.EventPublisher 的 Kafka 实现。
// 以商品 ID 作为消息 Key，同一商品的事件落在同一分区、保持有序。
type StockEventKafkaPublisher struct {
	writer *kafka.Writer
}

var _ domain.EventPublisher = (*StockEventKafkaPublisher)(nil)

func NewStockEventKafkaPublisher(writer *kafka.Writer) *StockEventKafkaPublisher {
	return &StockEventKafkaPublisher{writer: writer}
}

func (p *StockEventKafkaPublisher) Publish(ctx context.Context, event *domain.StockEvent) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}
	key := []byte(strconv.FormatInt(event.ProductID, 10))
	return mq.ProduceMessage(ctx, p.writer, key, eventBytes)
}
