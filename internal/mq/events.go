// Package mq 提供库存变动事件的消息定义与发布
package mq

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/domain"
)

// EventType 事件类型
type EventType string

const (
	// EventTypeStockMovement 库存变动事件；每条已提交的台账记录对应一条事件
	EventTypeStockMovement EventType = "stock_movement"
)

// StockMovementEvent 库存变动事件。
// 事件在事务提交之后发布，下游消费者（预警、报表物化、同步）据此更新自身状态；
// movement 的 ID 可用于消费端去重。
type StockMovementEvent struct {
	ID        string                `json:"id"`        // 事件唯一ID
	Type      EventType             `json:"type"`      // 事件类型
	Version   string                `json:"version"`   // 事件版本
	Timestamp time.Time             `json:"timestamp"` // 事件时间戳
	Source    string                `json:"source"`    // 事件源服务名
	Movement  *domain.StockMovement `json:"movement"`  // 变动记录
}

// MovementPublisher 把已提交的库存变动发布到消息队列。
// 实现 service.EventPublisher；发布失败只记录日志，不影响已提交的事务。
type MovementPublisher struct {
	producer *Producer
	exchange string
	source   string
	logger   *zap.Logger
}

// NewMovementPublisher 创建库存变动事件发布器
func NewMovementPublisher(producer *Producer, exchange, source string, logger *zap.Logger) *MovementPublisher {
	return &MovementPublisher{
		producer: producer,
		exchange: exchange,
		source:   source,
		logger:   logger,
	}
}

// PublishStockMovements 逐条发布库存变动事件。
// 路由键形如 stock.movement.receive，按变动类型分流。
func (p *MovementPublisher) PublishStockMovements(ctx context.Context, movements []*domain.StockMovement) {
	for _, m := range movements {
		event := &StockMovementEvent{
			ID:        uuid.NewString(),
			Type:      EventTypeStockMovement,
			Version:   "1.0",
			Timestamp: time.Now(),
			Source:    p.source,
			Movement:  m,
		}

		routingKey := "stock.movement." + strings.ToLower(string(m.Type))
		options := &PublishOptions{
			MessageID: event.ID,
			Type:      string(EventTypeStockMovement),
			Timestamp: event.Timestamp,
		}

		if err := p.producer.PublishJSON(ctx, p.exchange, routingKey, event, options); err != nil {
			p.logger.Warn("failed to publish stock movement event",
				zap.Int64("movement_id", m.ID),
				zap.String("routing_key", routingKey),
				zap.Error(err),
			)
		}
	}
}

// NullPublisher 在消息队列未启用时使用的空发布器
type NullPublisher struct{}

// PublishStockMovements 丢弃所有事件
func (NullPublisher) PublishStockMovements(context.Context, []*domain.StockMovement) {}
