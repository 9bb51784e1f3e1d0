package natsx

import (
	"github.com/nats-io/nats.go"

	"PRelay/tools/errs"
)

// Publish sends a core NATS message.
func (c *NatsxClient) Publish(subject string, data []byte, hdr map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range hdr {
		msg.Header.Add(k, v)
	}
	if err := c.nc.PublishMsg(msg); err != nil {
		return errs.ErrBroker.WrapMsg("publish", "subject", subject, "err", err)
	}
	return nil
}
