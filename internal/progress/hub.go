// Package progress 按任务 ID 分发导入进度快照，与具体的推送方式（SSE、轮询）无关。
package progress

import (
	"sync"
	"time"

	"pai-kb-go/internal/model"
	"pai-kb-go/pkg/log"
)

// Subscription 是某个任务上的一个订阅者。
type Subscription struct {
	TaskID string
	ch     chan model.TaskSnapshot
	once   sync.Once
}

// Events 返回事件通道。任务的通道被关闭或取消订阅后该通道会被关闭。
func (s *Subscription) Events() <-chan model.TaskSnapshot {
	return s.ch
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub 维护 taskID -> 订阅者集合。
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[*Subscription]struct{}
	bufferSize int
}

func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		subs:       make(map[string]map[*Subscription]struct{}),
		bufferSize: bufferSize,
	}
}

// Subscribe 只会收到订阅之后发布的事件，调用方应自行先读取一次当前快照。
func (h *Hub) Subscribe(taskID string) *Subscription {
	sub := &Subscription{TaskID: taskID, ch: make(chan model.TaskSnapshot, h.bufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[taskID] = set
	}
	set[sub] = struct{}{}
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sub.TaskID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.TaskID)
		}
	}
	sub.close()
}

// Publish 非阻塞地投递快照。缓冲区满时丢弃最旧的一条，保证订阅者总能拿到最新状态。
func (h *Hub) Publish(taskID string, snap model.TaskSnapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[taskID] {
		ev := snap.Clone()
		select {
		case sub.ch <- ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			log.Debugf("[ProgressHub] 订阅者缓冲区已满，丢弃最旧事件, taskId: %s", taskID)
		default:
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close 关闭任务的所有订阅者通道。
func (h *Hub) Close(taskID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[taskID] {
		sub.close()
	}
	delete(h.subs, taskID)
}

// CloseAfter 在 delay 之后关闭任务通道。
func (h *Hub) CloseAfter(taskID string, delay time.Duration) {
	time.AfterFunc(delay, func() { h.Close(taskID) })
}

// Subscribers 返回任务当前的订阅者数量。
func (h *Hub) Subscribers(taskID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[taskID])
}
