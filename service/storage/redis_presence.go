package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"PRelay/module/presence"
	"PRelay/tools/errs"
)

// RedisPresence mirrors the relay registry into Redis so other services can
// ask who is online without talking to the relay.
//
//	<prefix>:online:<node>   hash userId -> connectionId, this node's registry
//	<prefix>:presence:<user> string node id, expires after ttl
//
// The hub re-sends a full snapshot periodically, which refreshes every TTL.
type RedisPresence struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisPresence(rdb redis.UniversalClient, prefix string, ttl time.Duration, log *zap.Logger) *RedisPresence {
	if prefix == "" {
		prefix = "relay"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisPresence{rdb: rdb, prefix: prefix, ttl: ttl, log: log}
}

func (p *RedisPresence) onlineKey(node string) string  { return p.prefix + ":online:" + node }
func (p *RedisPresence) presenceKey(user string) string { return p.prefix + ":presence:" + user }

// luaOffline deletes the presence key only while it still names this node,
// so a user who already reconnected elsewhere stays online.
// KEYS[1] = online hash, KEYS[2] = presence key
// ARGV[1] = userId, ARGV[2] = node
// returns 1 when the presence key was removed
var luaOffline = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
if redis.call("GET", KEYS[2]) == ARGV[2] then
  return redis.call("DEL", KEYS[2])
end
return 0
`)

func (p *RedisPresence) Name() string { return "redis" }

func (p *RedisPresence) Publish(ctx context.Context, c presence.Change) error {
	var err error
	switch c.Kind {
	case presence.KindOnline:
		err = p.online(ctx, c.Node, c.Entry)
	case presence.KindOffline:
		err = p.offline(ctx, c.Node, c.Entry)
	case presence.KindResync:
		err = p.resync(ctx, c.Node, c.Snapshot)
	default:
		return nil
	}
	if err != nil {
		return errs.ErrStorage.WrapMsg("mirror presence", "kind", c.Kind, "err", err)
	}
	return nil
}

func (p *RedisPresence) online(ctx context.Context, node string, e presence.ConnectionEntry) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, p.onlineKey(node), e.UserID, e.ConnectionID)
		pipe.Expire(ctx, p.onlineKey(node), p.ttl)
		pipe.Set(ctx, p.presenceKey(e.UserID), node, p.ttl)
		return nil
	})
	return err
}

func (p *RedisPresence) offline(ctx context.Context, node string, e presence.ConnectionEntry) error {
	return luaOffline.Run(ctx, p.rdb,
		[]string{p.onlineKey(node), p.presenceKey(e.UserID)}, e.UserID, node).Err()
}

// resync replaces this node's hash with snapshot and renews every TTL.
func (p *RedisPresence) resync(ctx context.Context, node string, snapshot []presence.ConnectionEntry) error {
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := p.onlineKey(node)
		pipe.Del(ctx, key)
		if len(snapshot) == 0 {
			return nil
		}
		fields := make([]any, 0, 2*len(snapshot))
		for _, e := range snapshot {
			fields = append(fields, e.UserID, e.ConnectionID)
			pipe.Set(ctx, p.presenceKey(e.UserID), node, p.ttl)
		}
		pipe.HSet(ctx, key, fields...)
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	return err
}

// Lookup reports which node holds user, cluster-wide.
func (p *RedisPresence) Lookup(ctx context.Context, user string) (node string, online bool, err error) {
	node, err = p.rdb.Get(ctx, p.presenceKey(user)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.ErrStorage.WrapMsg("presence lookup", "user", user, "err", err)
	}
	return node, true, nil
}

// NodeUsers returns the userId -> connectionId map last mirrored by node.
func (p *RedisPresence) NodeUsers(ctx context.Context, node string) (map[string]string, error) {
	m, err := p.rdb.HGetAll(ctx, p.onlineKey(node)).Result()
	if err != nil {
		return nil, errs.ErrStorage.WrapMsg("node users", "node", node, "err", err)
	}
	return m, nil
}
