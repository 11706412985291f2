// Package mq 提供RabbitMQ连接管理
package mq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConnectionState 连接状态
type ConnectionState int32

const (
	// StateDisconnected 未连接
	StateDisconnected ConnectionState = iota
	// StateConnecting 连接中
	StateConnecting
	// StateConnected 已连接
	StateConnected
	// StateClosed 已关闭，不再重连
	StateClosed
)

// String 返回状态名
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionManager 管理单条AMQP连接及其通道池。
// 连接意外断开时在后台按指数退避重连；Close 之后停止一切重连。
type ConnectionManager struct {
	config *Config
	logger *zap.Logger

	conn  *amqp.Connection
	pool  *ChannelPool
	state int32
	mutex sync.RWMutex

	done chan struct{}
	once sync.Once
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(config *Config, logger *zap.Logger) *ConnectionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cm := &ConnectionManager{
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
	cm.pool = NewChannelPool(config.ChannelPoolSize, cm)
	return cm
}

// Connect 建立连接。已连接时直接返回。
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	if cm.GetState() == StateClosed {
		return fmt.Errorf("connection manager is closed")
	}

	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.conn != nil && !cm.conn.IsClosed() {
		return nil
	}

	atomic.StoreInt32(&cm.state, int32(StateConnecting))

	conn, err := cm.dial(ctx)
	if err != nil {
		atomic.StoreInt32(&cm.state, int32(StateDisconnected))
		return err
	}

	cm.conn = conn
	atomic.StoreInt32(&cm.state, int32(StateConnected))
	cm.logger.Info("mq connected",
		zap.String("host", cm.config.Host),
		zap.Int("port", cm.config.Port),
	)

	go cm.watch(conn)
	return nil
}

// dial 按配置超时拨号
func (cm *ConnectionManager) dial(ctx context.Context) (*amqp.Connection, error) {
	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan dialResult, 1)

	go func() {
		conn, err := amqp.DialConfig(cm.config.GetConnectionURL(), amqp.Config{
			Heartbeat: cm.config.Heartbeat,
			Dial:      amqp.DefaultDial(cm.config.ConnectionTimeout),
		})
		done <- dialResult{conn, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("failed to dial rabbitmq: %w", r.err)
		}
		return r.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watch 监听连接关闭事件并触发重连
func (cm *ConnectionManager) watch(conn *amqp.Connection) {
	closeCh := make(chan *amqp.Error, 1)
	conn.NotifyClose(closeCh)

	select {
	case <-cm.done:
		return
	case amqpErr := <-closeCh:
		if amqpErr == nil {
			// 正常关闭
			return
		}
		atomic.StoreInt32(&cm.state, int32(StateDisconnected))
		cm.logger.Warn("mq connection lost", zap.Error(amqpErr))
		cm.reconnect()
	}
}

// reconnect 指数退避重连，直到成功或管理器被关闭
func (cm *ConnectionManager) reconnect() {
	delay := cm.config.ReconnectDelay
	for attempt := 1; ; attempt++ {
		select {
		case <-cm.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), cm.config.ConnectionTimeout)
		err := cm.Connect(ctx)
		cancel()
		if err == nil {
			cm.logger.Info("mq reconnected", zap.Int("attempt", attempt))
			return
		}

		cm.logger.Warn("mq reconnect failed",
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err),
		)
		delay *= 2
		if delay > cm.config.ReconnectMaxDelay {
			delay = cm.config.ReconnectMaxDelay
		}
	}
}

// GetState 获取当前状态
func (cm *ConnectionManager) GetState() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&cm.state))
}

// IsConnected 连接是否可用
func (cm *ConnectionManager) IsConnected() bool {
	return cm.GetState() == StateConnected
}

// GetConnection 获取底层连接；未连接时返回nil
func (cm *ConnectionManager) GetConnection() *amqp.Connection {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return cm.conn
}

// GetChannel 从通道池获取通道
func (cm *ConnectionManager) GetChannel() (*amqp.Channel, error) {
	if !cm.IsConnected() {
		return nil, fmt.Errorf("mq connection is not available (state: %s)", cm.GetState())
	}
	return cm.pool.Get()
}

// ReturnChannel 归还通道到池
func (cm *ConnectionManager) ReturnChannel(ch *amqp.Channel) {
	cm.pool.Return(ch)
}

// Close 关闭连接和通道池，停止重连
func (cm *ConnectionManager) Close() error {
	var err error
	cm.once.Do(func() {
		atomic.StoreInt32(&cm.state, int32(StateClosed))
		close(cm.done)
		cm.pool.Close()

		cm.mutex.Lock()
		defer cm.mutex.Unlock()
		if cm.conn != nil && !cm.conn.IsClosed() {
			err = cm.conn.Close()
		}
	})
	return err
}
