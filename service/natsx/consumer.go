package natsx

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"PRelay/tools/errs"
	"PRelay/tools/safe"
)

// Subscribe registers h on subject. A non-empty queue spreads messages across
// relay nodes; an empty one delivers to every node.
func (c *NatsxClient) Subscribe(subject, queue string, h NatsxHandler, mws ...NatsxMiddleware) error {
	h = NatsxChain(h, mws...)
	cb := func(m *nats.Msg) {
		msg := NatsxMessage{
			Subject: m.Subject,
			Reply:   m.Reply,
			Data:    append([]byte(nil), m.Data...),
			Header:  headerToMap(m.Header),
		}
		if err := safe.Run("nats-"+subject, func() {
			if err := h(context.Background(), msg); err != nil {
				c.log.Warn("nats handler failed", zap.String("subject", m.Subject), zap.Error(err))
			}
		}); err != nil {
			c.log.Error("nats handler panicked", zap.String("subject", m.Subject), zap.Error(err))
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue == "" {
		sub, err = c.nc.Subscribe(subject, cb)
	} else {
		sub, err = c.nc.QueueSubscribe(subject, queue, cb)
	}
	if err != nil {
		return errs.ErrBroker.WrapMsg("subscribe", "subject", subject, "err", err)
	}
	_ = sub.SetPendingLimits(1_000_000, 64*1024*1024)

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

func headerToMap(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
