// Package mq 提供RabbitMQ连接管理与事件发布
package mq

import (
	"fmt"
	"time"
)

// Config RabbitMQ配置
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	VHost    string `json:"vhost"`

	// 连接行为
	ConnectionTimeout time.Duration `json:"connection_timeout"`
	Heartbeat         time.Duration `json:"heartbeat"`
	ChannelPoolSize   int           `json:"channel_pool_size"`

	// 断线重连退避
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	ReconnectMaxDelay time.Duration `json:"reconnect_max_delay"`

	// 发布端配置
	Producer ProducerConfig `json:"producer"`
}

// ProducerConfig 发布端配置
type ProducerConfig struct {
	// ConfirmMode 开启publisher confirm，等待broker确认后才视为发布成功
	ConfirmMode    bool          `json:"confirm_mode"`
	ConfirmTimeout time.Duration `json:"confirm_timeout"`

	// 发布失败时的重试
	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// Persistent 消息持久化投递
	Persistent bool `json:"persistent"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              5672,
		Username:          "guest",
		Password:          "guest",
		VHost:             "/",
		ConnectionTimeout: 10 * time.Second,
		Heartbeat:         10 * time.Second,
		ChannelPoolSize:   8,
		ReconnectDelay:    time.Second,
		ReconnectMaxDelay: 30 * time.Second,
		Producer: ProducerConfig{
			ConfirmMode:    true,
			ConfirmTimeout: 5 * time.Second,
			MaxRetries:     3,
			RetryDelay:     500 * time.Millisecond,
			Persistent:     true,
		},
	}
}

// GetConnectionURL 拼接AMQP连接串
func (c *Config) GetConnectionURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.Username, c.Password, c.Host, c.Port, c.VHost)
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("mq host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid mq port: %d", c.Port)
	}
	if c.ChannelPoolSize <= 0 {
		return fmt.Errorf("channel pool size must be positive")
	}
	if c.Producer.MaxRetries < 0 {
		return fmt.Errorf("producer max retries cannot be negative")
	}
	return nil
}
