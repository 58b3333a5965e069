package dispatch

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bluest/internal/groutine"
)

// Serial runs the tasks of one key one at a time in submission order on a
// goroutine that lives while the key has queued work. It needs no Stop, so it
// is the fallback scheduler of nodes and features built without a
// Dispatcher.
type Serial struct {
	logger *logrus.Logger

	mu     sync.Mutex
	queues map[string][]func()
}

// NewSerial returns an idle scheduler. A nil logger uses logrus defaults.
func NewSerial(logger *logrus.Logger) *Serial {
	if logger == nil {
		logger = logrus.New()
	}
	return &Serial{logger: logger, queues: make(map[string][]func())}
}

// Schedule queues task behind the pending tasks of key. It never fails.
func (s *Serial) Schedule(key string, task func()) error {
	s.mu.Lock()
	q, busy := s.queues[key]
	s.queues[key] = append(q, task)
	s.mu.Unlock()

	if !busy {
		groutine.Go(context.Background(), key, func(context.Context) { s.drain(key) })
	}
	return nil
}

func (s *Serial) drain(key string) {
	for {
		s.mu.Lock()
		q := s.queues[key]
		if len(q) == 0 {
			delete(s.queues, key)
			s.mu.Unlock()
			return
		}
		task := q[0]
		q[0] = nil
		s.queues[key] = q[1:]
		s.mu.Unlock()

		s.run(key, task)
	}
}

func (s *Serial) run(key string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"key":   key,
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("Listener panicked")
		}
	}()
	task()
}
