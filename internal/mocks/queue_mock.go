package mocks

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// FakeQueue 进程内队列：测试时替代Redis队列
type FakeQueue struct {
	mu     sync.Mutex
	queues map[string]chan []byte
}

func NewFakeQueue() *FakeQueue {
	return &FakeQueue{queues: make(map[string]chan []byte)}
}

func (q *FakeQueue) channel(queue string) chan []byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch, ok := q.queues[queue]
	if !ok {
		ch = make(chan []byte, 256)
		q.queues[queue] = ch
	}
	return ch
}

func (q *FakeQueue) Push(ctx context.Context, queue string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case q.channel(queue) <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *FakeQueue) Pop(ctx context.Context, queue string, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-q.channel(queue):
		return data, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Drain 取出队列中已有的全部消息，不阻塞
func (q *FakeQueue) Drain(queue string) [][]byte {
	ch := q.channel(queue)
	var out [][]byte
	for {
		select {
		case data := <-ch:
			out = append(out, data)
		default:
			return out
		}
	}
}
