package main

import (
	"context"
	"flag"
	"fmt"
	"hash/crc32"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Shopify/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"PRelay/global/config"
	"PRelay/logger"
	"PRelay/middleware"
	midsec "PRelay/middleware/security"
	"PRelay/module/presence"
	"PRelay/service/chat"
	"PRelay/service/kafka"
	"PRelay/service/nacos"
	"PRelay/service/natsx"
	"PRelay/service/rpc"
	"PRelay/service/storage"
	"PRelay/tools/ids"
	"PRelay/tools/security"
)

func main() {
	var (
		confPath = flag.String("config", "", "path to YAML config")
		probe    = flag.String("probe", "", "check gRPC health at host:port and exit")
		token    = flag.String("token", "", "print a relay JWT for this user id and exit")
	)
	flag.Parse()

	if *probe != "" {
		os.Exit(runProbe(*probe))
	}

	conf, err := config.Load(*confPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.Setup(logger.Options{Level: conf.Log.Level, File: conf.Log.File})
	defer logger.Sync()

	if *token != "" {
		tok, exp, err := security.Generate(security.DefaultOptions([]byte(conf.Auth.Secret)), *token)
		if err != nil {
			log.Fatal("issue token", zap.Error(err))
		}
		fmt.Printf("%s\nexpires %s\n", tok, exp.Format(time.RFC3339))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, conf, log); err != nil {
		log.Error("relay stopped with error", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	log.Info("relay stopped")
}

func runProbe(target string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := rpc.Check(ctx, target, rpc.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(st.String())
	if st.String() != "SERVING" {
		return 1
	}
	return 0
}

func run(ctx context.Context, conf *config.AppConfig, log *zap.Logger) error {
	origins := middleware.NewOriginAllowList(conf.HTTP.AllowedOrigins)

	if conf.Nacos.Enabled {
		remote, err := config.NewRemoteSource(conf.Nacos, logger.Named("nacos"))
		if err != nil {
			return err
		}
		defer remote.Close()
		base := conf
		if conf, err = remote.Fetch(base); err != nil {
			return err
		}
		if err := conf.Validate(); err != nil {
			return err
		}
		origins.Set(conf.HTTP.AllowedOrigins)
		_ = logger.SetLevel(conf.Log.Level)
		// only origins and log level take effect without a restart
		if err := remote.Watch(base, func(next *config.AppConfig) {
			origins.Set(next.HTTP.AllowedOrigins)
			if err := logger.SetLevel(next.Log.Level); err != nil {
				log.Warn("bad log level from nacos", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	policy, err := presence.PolicyByName(conf.Presence.Policy)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := presence.NewMetrics(reg)

	var (
		sinks  []presence.Sink
		rdb    *redis.Client
		mirror *storage.RedisPresence
		nc     *natsx.NatsxClient
		bridge *natsx.Bridge
		kcfg   *sarama.Config
		resync time.Duration
	)
	if conf.Redis.Enabled {
		if rdb, err = storage.NewClient(ctx, conf.Redis); err != nil {
			return err
		}
		defer rdb.Close()
		mirror = storage.NewRedisPresence(rdb, conf.Redis.KeyPrefix, conf.Redis.TTL, logger.Named("redis"))
		sinks = append(sinks, mirror)
		resync = conf.Redis.TTL / 3
	}
	if conf.Nats.Enabled {
		if nc, err = natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: conf.Nats.Servers,
			Name:    conf.Nats.Name,
		}, logger.Named("natsx")); err != nil {
			return err
		}
		defer nc.Close()
		bridge = natsx.NewBridge(natsx.BridgeConfig{
			SendSubject:     conf.Nats.SendSubject,
			PresenceSubject: conf.Nats.PresenceSubject,
			OnlineSubject:   conf.Nats.OnlineSubject,
			Queue:           conf.Nats.Queue,
		}, nc, logger.Named("natsx"))
		sinks = append(sinks, bridge)
		if resync == 0 {
			resync = time.Minute
		}
	}

	if conf.Kafka.Enabled {
		if kcfg, err = kafka.BuildBaseConfig(conf.Kafka); err != nil {
			return err
		}
		if conf.Kafka.EnsureTopics {
			if err := ensureKafkaTopics(conf.Kafka, kcfg); err != nil {
				return err
			}
		}
		prod, err := kafka.NewSyncProducer(conf.Kafka.Brokers, kcfg)
		if err != nil {
			return err
		}
		ksink := kafka.NewPresenceSink(prod, conf.Kafka.PresenceTopic, conf.NodeId, logger.Named("kafka"))
		defer ksink.Close()
		sinks = append(sinks, ksink)
	}

	jwtMode := conf.Auth.Mode == config.AuthJWT
	hub := presence.NewHub(presence.Options{
		NodeID:       conf.NodeId,
		Policy:       policy,
		Metrics:      metrics,
		Sinks:        sinks,
		SinkQueue:    conf.Presence.SinkQueue,
		ResyncEvery:  resync,
		LockIdentity: jwtMode,
		Logger:       logger.Named("hub"),
	})

	if bridge != nil {
		var loc natsx.Locator = natsx.HubLocator{Hub: hub, Node: conf.NodeId}
		if mirror != nil {
			loc = mirror
		}
		if err := bridge.Start(hub, loc); err != nil {
			return err
		}
	}

	// must precede the errgroup: an error here returns with nothing running
	var nreg *nacos.Registry
	if conf.Nacos.Enabled && conf.Nacos.Register {
		meta := map[string]string{
			"node":        conf.NodeId,
			"socket_path": conf.HTTP.SocketPath,
			"policy":      conf.Presence.Policy,
		}
		if conf.Grpc.Enabled {
			meta["grpc_port"] = fmt.Sprint(conf.Grpc.Port)
		}
		if nreg, err = nacos.NewRegistry(conf.Nacos, conf.Nacos.AdvertiseIP, conf.HTTP.Port, meta, logger.Named("nacos")); err != nil {
			return err
		}
		if err := nreg.Register(); err != nil {
			nreg.Close()
			return err
		}
	}

	var consumer *kafka.SendConsumer
	if conf.Kafka.Enabled && conf.Kafka.SendTopic != "" {
		if consumer, err = kafka.NewSendConsumer(conf.Kafka.Brokers, conf.Kafka.GroupID,
			[]string{conf.Kafka.SendTopic}, kcfg, hub, logger.Named("kafka")); err != nil {
			if nreg != nil {
				nreg.Deregister()
			}
			return err
		}
	}

	var (
		ident     chat.Identifier = chat.QueryIdentifier{}
		statsAuth *midsec.Options
	)
	if jwtMode {
		jopts := security.DefaultOptions([]byte(conf.Auth.Secret))
		ident = security.JWTIdentifier{Opts: jopts, Param: conf.Auth.TokenParam}
		statsAuth = midsec.DefaultOptions(func(tok string) (string, error) {
			return security.Verify(jopts, tok)
		})
	}

	srv := chat.NewServer(chat.Options{
		Port:       conf.HTTP.Port,
		SocketPath: conf.HTTP.SocketPath,
		Client: chat.ClientConf{
			ReadLimit: conf.WS.ReadLimit,
			SendQueue: conf.WS.SendQueue,
			WriteWait: conf.WS.WriteWait,
			PongWait:  conf.WS.PongWait,
		},
		Relay:      hub,
		Identifier: ident,
		Origins:    origins,
		StatsAuth:  statsAuth,
		Gatherer:   reg,
		IDs:        ids.NewGenerator(int64(crc32.ChecksumIEEE([]byte(conf.NodeId)) % 1024)),
		Logger:     logger.Named("ws"),
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), conf.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if consumer != nil {
		g.Go(func() error { return consumer.Run(ctx) })
	}
	if nreg != nil {
		g.Go(func() error { return nreg.Hold(ctx) })
	}
	if conf.Grpc.Enabled {
		health := rpc.NewHealthServer(logger.Named("rpc"))
		g.Go(func() error { return health.Listen(conf.Grpc.Port) })
		g.Go(func() error {
			select {
			case <-hub.Done():
			case <-ctx.Done():
			}
			health.Stop()
			return nil
		})
		health.SetServing(true)
	}
	log.Info("relay started",
		zap.String("node", conf.NodeId),
		zap.Int("port", conf.HTTP.Port),
		zap.String("socket", conf.HTTP.SocketPath),
		zap.String("policy", conf.Presence.Policy),
		zap.String("auth", conf.Auth.Mode),
		zap.Bool("redis", conf.Redis.Enabled),
		zap.Bool("nats", conf.Nats.Enabled),
		zap.Bool("kafka", conf.Kafka.Enabled))
	return g.Wait()
}

func ensureKafkaTopics(conf config.KafkaConfig, cfg *sarama.Config) error {
	admin, err := sarama.NewClusterAdmin(conf.Brokers, cfg)
	if err != nil {
		return err
	}
	defer admin.Close()
	topics := []string{conf.PresenceTopic}
	if conf.SendTopic != "" {
		topics = append(topics, conf.SendTopic)
	}
	return kafka.EnsureTopics(admin, topics, conf.Partitions, conf.ReplicationFactor, logger.Named("kafka"))
}
