package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"envoearn/internal/model"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Consumer 消费行变更 topic，转发给 Hub
type Consumer struct {
	hub *Hub
}

func NewConsumer(hub *Hub) *Consumer {
	return &Consumer{hub: hub}
}

func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	log.Println("[Realtime] 消费者组加入成功")
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim 解析失败的消息直接跳过，推送是尽力而为的
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			var event model.ChangeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				log.WithError(err).WithField("offset", msg.Offset).Warn("[Realtime] 无法解析的变更事件")
			} else {
				c.hub.Broadcast(&event)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// Run 持续消费，直到 ctx 取消；rebalance 之后重新加入
func (c *Consumer) Run(ctx context.Context, group sarama.ConsumerGroup, topics []string) {
	go func() {
		for err := range group.Errors() {
			log.Printf("[Realtime] 消费者组错误: %v", err)
		}
	}()

	for {
		if err := group.Consume(ctx, topics, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			log.Printf("[Realtime] 消费失败，稍后重试: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
