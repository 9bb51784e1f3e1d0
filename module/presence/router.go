package presence

import (
	"github.com/buger/jsonparser"
	"go.uber.org/zap"
)

// Deliverer enqueues an encoded frame on a live connection. It reports false
// when the connection is unknown or cannot take the frame; callers treat that
// as "recipient offline".
type Deliverer interface {
	Deliver(connectionID string, frame []byte) bool
}

// Delivery summarises one routing call. It never reaches the sender.
type Delivery struct {
	Targets   int // recipients named by the payload
	Delivered int
	Dropped   int
}

// Router forwards opaque payloads to the connection registered for each
// recipient. Delivery is fire-and-forget: offline recipients are skipped with
// no error, retry or queueing.
type Router struct {
	reg *Registry
	out Deliverer
	log *zap.Logger
}

func NewRouter(reg *Registry, out Deliverer, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{reg: reg, out: out, log: log}
}

// RouteToOne delivers payload to receiverId.
func (r *Router) RouteToOne(payload []byte) Delivery {
	var d Delivery
	to := receiverID(payload)
	if to == "" {
		r.log.Debug("sendMessage without receiverId dropped")
		return d
	}
	frame := EncodeFrame(EventGetMessage, payload)
	d.Targets = 1
	r.deliver(&d, to, frame)
	return d
}

// RouteToBoth echoes payload to senderId and delivers it to the first entry
// of receiverIds. The two deliveries are independent.
func (r *Router) RouteToBoth(payload []byte) Delivery {
	var d Delivery
	frame := EncodeFrame(EventGetMessage, payload)

	if from := senderID(payload); from != "" {
		d.Targets++
		r.deliver(&d, from, frame)
	} else {
		r.log.Debug("sendMessageToBoth without senderId, echo skipped")
	}
	if to := firstReceiverID(payload); to != "" {
		d.Targets++
		r.deliver(&d, to, frame)
	} else {
		r.log.Debug("sendMessageToBoth without receiverIds[0].userId")
	}
	return d
}

func (r *Router) deliver(d *Delivery, userID string, frame []byte) {
	e, ok := r.reg.LookupByUser(userID)
	if !ok {
		d.Dropped++
		r.log.Debug("recipient offline", zap.String("userId", userID))
		return
	}
	if !r.out.Deliver(e.ConnectionID, frame) {
		d.Dropped++
		r.log.Debug("recipient unreachable",
			zap.String("userId", userID), zap.String("connectionId", e.ConnectionID))
		return
	}
	d.Delivered++
}

// routable reports whether a frame's data can carry routing fields.
func routable(f Frame) bool {
	return f.DataType == jsonparser.Object
}
