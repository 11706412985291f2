// Package mq 提供RabbitMQ事件发布
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// PublishOptions 单条消息的发布选项
type PublishOptions struct {
	MessageID string
	Type      string
	Timestamp time.Time
	Headers   amqp.Table
}

// Producer 向exchange发布JSON消息。
// 开启confirm模式时，每次发布等待broker ack；失败按配置重试。
type Producer struct {
	cm     *ConnectionManager
	config ProducerConfig
	logger *zap.Logger
	closed int32
}

// NewProducer 创建生产者
func NewProducer(cm *ConnectionManager, config ProducerConfig, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		cm:     cm,
		config: config,
		logger: logger,
	}
}

// PublishJSON 序列化data并发布到exchange。
// 发布失败时按RetryDelay间隔重试，最多MaxRetries次。
func (p *Producer) PublishJSON(ctx context.Context, exchange, routingKey string, data interface{}, options *PublishOptions) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return fmt.Errorf("producer is closed")
	}

	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := p.buildMessage(body, options)

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.config.RetryDelay):
			}
		}

		if lastErr = p.publishOnce(ctx, exchange, routingKey, msg); lastErr == nil {
			return nil
		}

		p.logger.Warn("publish attempt failed",
			zap.String("exchange", exchange),
			zap.String("routing_key", routingKey),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	return fmt.Errorf("publish failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// publishOnce 借一条通道发布一次
func (p *Producer) publishOnce(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	ch, err := p.cm.GetChannel()
	if err != nil {
		return err
	}

	if p.config.ConfirmMode {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			return fmt.Errorf("failed to enable confirm mode: %w", err)
		}

		confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, routingKey, false, false, msg)
		if err != nil {
			ch.Close()
			return fmt.Errorf("failed to publish: %w", err)
		}

		confirmCtx, cancel := context.WithTimeout(ctx, p.config.ConfirmTimeout)
		defer cancel()
		acked, err := confirmation.WaitContext(confirmCtx)
		if err != nil {
			ch.Close()
			return fmt.Errorf("confirm wait failed: %w", err)
		}
		if !acked {
			ch.Close()
			return fmt.Errorf("message nacked by broker")
		}

		p.cm.ReturnChannel(ch)
		return nil
	}

	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		ch.Close()
		return fmt.Errorf("failed to publish: %w", err)
	}
	p.cm.ReturnChannel(ch)
	return nil
}

// buildMessage 组装AMQP消息
func (p *Producer) buildMessage(body []byte, options *PublishOptions) amqp.Publishing {
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now(),
	}
	if p.config.Persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	if options != nil {
		if options.MessageID != "" {
			msg.MessageId = options.MessageID
		}
		if options.Type != "" {
			msg.Type = options.Type
		}
		if !options.Timestamp.IsZero() {
			msg.Timestamp = options.Timestamp
		}
		if options.Headers != nil {
			msg.Headers = options.Headers
		}
	}
	return msg
}

// Close 关闭生产者；底层连接由ConnectionManager负责
func (p *Producer) Close() error {
	atomic.StoreInt32(&p.closed, 1)
	return nil
}
