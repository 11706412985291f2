// Package mq 提供RabbitMQ通道池
package mq

import (
	"fmt"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ChannelPool 复用AMQP通道，避免每次发布都新建通道。
// 池空时按需创建，池满时归还的通道直接关闭。
type ChannelPool struct {
	channels chan *amqp.Channel
	cm       *ConnectionManager
	closed   int32
}

// NewChannelPool 创建通道池
func NewChannelPool(size int, cm *ConnectionManager) *ChannelPool {
	return &ChannelPool{
		channels: make(chan *amqp.Channel, size),
		cm:       cm,
	}
}

// Get 获取一个可用通道
func (cp *ChannelPool) Get() (*amqp.Channel, error) {
	if atomic.LoadInt32(&cp.closed) == 1 {
		return nil, fmt.Errorf("channel pool is closed")
	}

	// 先复用池中的存活通道；已断开的丢弃
	for {
		select {
		case ch := <-cp.channels:
			if ch != nil && !ch.IsClosed() {
				return ch, nil
			}
		default:
			conn := cp.cm.GetConnection()
			if conn == nil || conn.IsClosed() {
				return nil, fmt.Errorf("mq connection is not available")
			}
			ch, err := conn.Channel()
			if err != nil {
				return nil, fmt.Errorf("failed to open channel: %w", err)
			}
			return ch, nil
		}
	}
}

// Return 归还通道；池满或池已关闭时直接关闭通道
func (cp *ChannelPool) Return(ch *amqp.Channel) {
	if ch == nil || ch.IsClosed() {
		return
	}
	if atomic.LoadInt32(&cp.closed) == 1 {
		ch.Close()
		return
	}

	select {
	case cp.channels <- ch:
	default:
		ch.Close()
	}
}

// Close 关闭池和池中所有通道
func (cp *ChannelPool) Close() {
	if !atomic.CompareAndSwapInt32(&cp.closed, 0, 1) {
		return
	}
	close(cp.channels)
	for ch := range cp.channels {
		if ch != nil && !ch.IsClosed() {
			ch.Close()
		}
	}
}
