package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"PRelay/tools/safe"
)

type ChangeKind string

const (
	KindOnline  ChangeKind = "online"
	KindOffline ChangeKind = "offline"
	// KindResync carries the full registry with no single entry.
	KindResync ChangeKind = "resync"
)

// Change is a registry membership event published to sinks.
type Change struct {
	Kind     ChangeKind        `json:"kind"`
	Node     string            `json:"node"`
	Entry    ConnectionEntry   `json:"entry"`
	Snapshot []ConnectionEntry `json:"users"`
	At       time.Time         `json:"at"`
}

// Sink mirrors presence outside the process (Redis, NATS). Sinks run on their
// own goroutine; a slow sink never holds up routing.
type Sink interface {
	Name() string
	Publish(ctx context.Context, c Change) error
}

type sinkPump struct {
	sinks   []Sink
	queue   chan Change
	timeout time.Duration
	done    chan struct{}
	log     *zap.Logger
}

func newSinkPump(sinks []Sink, size int, log *zap.Logger) *sinkPump {
	if size <= 0 {
		size = 128
	}
	return &sinkPump{
		sinks:   sinks,
		queue:   make(chan Change, size),
		timeout: 3 * time.Second,
		done:    make(chan struct{}),
		log:     log,
	}
}

func (p *sinkPump) start() {
	safe.Go("presence-sinks", func() {
		defer close(p.done)
		for c := range p.queue {
			for _, s := range p.sinks {
				p.publish(s, c)
			}
		}
	})
}

func (p *sinkPump) publish(s Sink, c Change) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := safe.Run("sink-"+s.Name(), func() {
		if err := s.Publish(ctx, c); err != nil {
			p.log.Warn("presence sink failed", zap.String("sink", s.Name()),
				zap.String("kind", string(c.Kind)), zap.Error(err))
		}
	}); err != nil {
		p.log.Warn("presence sink panicked", zap.String("sink", s.Name()), zap.Error(err))
	}
}

// offer never blocks; changes beyond the queue are dropped.
func (p *sinkPump) offer(c Change) {
	if len(p.sinks) == 0 {
		return
	}
	select {
	case p.queue <- c:
	default:
		p.log.Warn("presence sink queue full, change dropped", zap.String("kind", string(c.Kind)))
	}
}

// stop drains queued changes and waits for the pump to exit.
func (p *sinkPump) stop() {
	close(p.queue)
	<-p.done
}
