package natsx

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"PRelay/module/presence"
	"PRelay/tools/errs"
)

// Injector accepts frames from back-end services.
type Injector interface {
	Inject(raw []byte) error
}

// Locator answers "which node serves this user".
type Locator interface {
	Lookup(ctx context.Context, userID string) (node string, online bool, err error)
}

type publisher interface {
	Publish(subject string, data []byte, hdr map[string]string) error
}

type subscriber interface {
	Subscribe(subject, queue string, h NatsxHandler, mws ...NatsxMiddleware) error
}

type BridgeConfig struct {
	SendSubject     string // inbound {"event","data"} frames
	PresenceSubject string // outbound presence changes
	OnlineSubject   string // request/reply lookups, empty disables
	Queue           string // online lookups only; sends reach every node
	DedupTTL        time.Duration
}

// Bridge connects the relay to the rest of the system over NATS. Inbound
// frames are injected into the hub; presence changes go out as a Sink.
type Bridge struct {
	cfg     BridgeConfig
	pub     publisher
	sub     subscriber
	hub     Injector
	locator Locator
	idem    IdemStore
	log     *zap.Logger
}

func NewBridge(cfg BridgeConfig, client *NatsxClient, log *zap.Logger) *Bridge {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bridge{
		cfg:  cfg,
		idem: NewMemIdem(cfg.DedupTTL),
		log:  log,
	}
	if client != nil {
		b.pub, b.sub = client, client
	}
	return b
}

// Start subscribes the inbound subjects. The bridge is built before the hub
// because it is one of the hub's sinks, so the hub arrives here. A nil
// locator disables lookups.
func (b *Bridge) Start(hub Injector, locator Locator) error {
	b.hub, b.locator = hub, locator
	// every node sees every frame; only the one holding the recipient delivers
	if err := b.sub.Subscribe(b.cfg.SendSubject, "", b.onSend,
		b.logged, NatsxIdemMiddleware(b.idem, b.cfg.DedupTTL)); err != nil {
		return err
	}
	if b.cfg.OnlineSubject != "" && b.locator != nil {
		if err := b.sub.Subscribe(b.cfg.OnlineSubject, b.cfg.Queue, b.onLookup, b.logged); err != nil {
			return err
		}
	}
	b.log.Info("nats bridge started",
		zap.String("send", b.cfg.SendSubject), zap.String("presence", b.cfg.PresenceSubject))
	return nil
}

func (b *Bridge) logged(next NatsxHandler) NatsxHandler {
	return func(ctx context.Context, msg NatsxMessage) error {
		b.log.Debug("nats in", zap.String("subject", msg.Subject), zap.Int("bytes", len(msg.Data)))
		return next(ctx, msg)
	}
}

func (b *Bridge) onSend(_ context.Context, msg NatsxMessage) error {
	return b.hub.Inject(msg.Data)
}

type lookupRequest struct {
	UserID string `json:"userId"`
}

type lookupReply struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
	Node   string `json:"node,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (b *Bridge) onLookup(ctx context.Context, msg NatsxMessage) error {
	if msg.Reply == "" {
		return nil
	}
	return b.pub.Publish(msg.Reply, b.answer(ctx, msg.Data), nil)
}

// answer accepts {"userId": "..."} or a bare user id.
func (b *Bridge) answer(ctx context.Context, data []byte) []byte {
	var req lookupRequest
	if err := json.Unmarshal(data, &req); err != nil || req.UserID == "" {
		req.UserID = string(data)
	}
	rep := lookupReply{UserID: req.UserID}
	if req.UserID == "" {
		rep.Error = "userId required"
	} else if node, online, err := b.locator.Lookup(ctx, req.UserID); err != nil {
		rep.Error = err.Error()
	} else {
		rep.Online, rep.Node = online, node
	}
	out, _ := json.Marshal(rep)
	return out
}

func (b *Bridge) Name() string { return "nats" }

// Publish implements presence.Sink.
func (b *Bridge) Publish(_ context.Context, c presence.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return errs.ErrBroker.WrapMsg("encode change", "err", err)
	}
	return b.pub.Publish(b.cfg.PresenceSubject, data, map[string]string{
		"Relay-Node":  c.Node,
		"Relay-Event": string(c.Kind),
	})
}
