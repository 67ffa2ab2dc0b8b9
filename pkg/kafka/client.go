// Package kafka 提供了导入进度在多个实例之间转发的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"pai-kb-go/internal/config"
	"pai-kb-go/internal/model"
	"pai-kb-go/pkg/log"

	"github.com/segmentio/kafka-go"
)

const originHeader = "origin"

// ProgressRelay 把本实例产生的进度快照写入 Kafka，并把其他实例的快照交给回调处理。
type ProgressRelay struct {
	writer  *kafka.Writer
	brokers []string
	topic   string
	origin  string
}

// NewProgressRelay 创建进度转发器。origin 用于区分实例，消费时跳过自己写入的消息。
func NewProgressRelay(cfg config.KafkaConfig, origin string) *ProgressRelay {
	brokers := strings.Split(cfg.Brokers, ",")
	return &ProgressRelay{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        cfg.ProgressTopic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
		},
		brokers: brokers,
		topic:   cfg.ProgressTopic,
		origin:  origin,
	}
}

// EncodeSnapshot 构造一条以任务 ID 为 key 的消息，保证同一任务的快照落在同一分区内有序。
func EncodeSnapshot(origin string, snap model.TaskSnapshot) (kafka.Message, error) {
	value, err := json.Marshal(snap)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(snap.TaskID),
		Value:   value,
		Headers: []kafka.Header{{Key: originHeader, Value: []byte(origin)}},
	}, nil
}

// DecodeSnapshot 解析消息，返回快照及写入方实例标识。
func DecodeSnapshot(m kafka.Message) (model.TaskSnapshot, string, error) {
	var snap model.TaskSnapshot
	if err := json.Unmarshal(m.Value, &snap); err != nil {
		return snap, "", err
	}
	origin := ""
	for _, h := range m.Headers {
		if h.Key == originHeader {
			origin = string(h.Value)
		}
	}
	return snap, origin, nil
}

// Publish 发送一条进度快照。
func (r *ProgressRelay) Publish(ctx context.Context, snap model.TaskSnapshot) error {
	msg, err := EncodeSnapshot(r.origin, snap)
	if err != nil {
		return err
	}
	return r.writer.WriteMessages(ctx, msg)
}

// Consume 阻塞读取其他实例的进度快照，直到 ctx 结束。
// 每个实例使用独立的消费组，保证都能收到全部消息。
func (r *ProgressRelay) Consume(ctx context.Context, handle func(model.TaskSnapshot)) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     r.brokers,
		Topic:       r.topic,
		GroupID:     "pai-kb-progress-" + r.origin,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
	})
	defer func() {
		if err := reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 进度消费者已启动，正在监听主题 '%s'", r.topic)
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		snap, origin, err := DecodeSnapshot(m)
		if err != nil {
			log.Warnf("无法解析进度消息: %v, value: %s", err, string(m.Value))
			continue
		}
		if origin == r.origin {
			continue
		}
		handle(snap)
	}
}

// Close 关闭生产者。
func (r *ProgressRelay) Close() error {
	return r.writer.Close()
}
