package mq

import (
	"context"
	"fmt"
	"log/slog"

	"campuspay/internal/config"

	"github.com/IBM/sarama"
)

// Producer Kafka 同步生产者，供发件箱投递使用
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer 初始化 Kafka 生产者
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	kafkaConfig.Producer.Idempotent = true                // 生产端幂等，避免重试导致重复
	kafkaConfig.Net.MaxOpenRequests = 1                   // 幂等生产要求
	kafkaConfig.Version = sarama.V2_1_0_0

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}

	slog.Info("[Kafka] Kafka 生产者创建成功", "brokers", cfg.Brokers)
	return &Producer{producer: producer}, nil
}

// NewProducerWith 使用已有的 SyncProducer（测试时传入 mocks）
func NewProducerWith(p sarama.SyncProducer) *Producer {
	return &Producer{producer: p}
}

// Publish 发送消息到 Kafka，key 相同的消息进入同一分区保证顺序
func (p *Producer) Publish(_ context.Context, topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

// Close 关闭 Kafka 生产者
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
