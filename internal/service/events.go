package service

import (
	"context"

	"cdpmock/pkg/model"
)

const subscriberBuffer = 64

// EventSink 拦截引擎写入事件的通道
func (s *Service) EventSink() chan model.Event {
	return s.events
}

// SubscribeEvents 订阅拦截事件；返回的取消函数关闭订阅通道
func (s *Service) SubscribeEvents() (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// RunEvents 将引擎事件广播给所有订阅者，慢订阅者丢弃事件；ctx 取消后关闭所有订阅
func (s *Service) RunEvents(ctx context.Context) error {
	defer s.closeSubscribers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-s.events:
			s.broadcast(evt)
		}
	}
}

func (s *Service) broadcast(evt model.Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.log.Debug("订阅者缓冲已满，丢弃事件", "type", evt.Type)
		}
	}
}

func (s *Service) closeSubscribers() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}
