package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"PRelay/tools/errs"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_HTTP_PORT.
const EnvPrefix = "RELAY"

const (
	PolicyAll         = "all"
	PolicyExcludeSelf = "exclude-self"

	AuthNone = "none"
	AuthJWT  = "jwt"
)

type AppConfig struct {
	NodeId   string         `mapstructure:"node_id" yaml:"node_id"` // relay instance id
	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	WS       WSConfig       `mapstructure:"ws" yaml:"ws"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Presence PresenceConfig `mapstructure:"presence" yaml:"presence"`
	Auth     AuthConfig     `mapstructure:"auth" yaml:"auth"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Nats     NatsConfig     `mapstructure:"nats" yaml:"nats"`
	Kafka    KafkaConfig    `mapstructure:"kafka" yaml:"kafka"`
	Grpc     GrpcConfig     `mapstructure:"grpc" yaml:"grpc"`
	Nacos    NacosConfig    `mapstructure:"nacos" yaml:"nacos"`
}

type HTTPConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	SocketPath      string        `mapstructure:"socket_path" yaml:"socket_path"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type WSConfig struct {
	ReadLimit int64         `mapstructure:"read_limit" yaml:"read_limit"` // max inbound frame, bytes
	SendQueue int           `mapstructure:"send_queue" yaml:"send_queue"` // per-connection outbound queue
	WriteWait time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait  time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"`
}

type PresenceConfig struct {
	Policy    string `mapstructure:"policy" yaml:"policy"`
	SinkQueue int    `mapstructure:"sink_queue" yaml:"sink_queue"`
}

type AuthConfig struct {
	Mode       string `mapstructure:"mode" yaml:"mode"`
	Secret     string `mapstructure:"secret" yaml:"secret"`
	TokenParam string `mapstructure:"token_param" yaml:"token_param"`
}

type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Addr      string        `mapstructure:"addr" yaml:"addr"`
	Password  string        `mapstructure:"password" yaml:"password"`
	DB        int           `mapstructure:"db" yaml:"db"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type NatsConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	Servers         []string `mapstructure:"servers" yaml:"servers"`
	Name            string   `mapstructure:"name" yaml:"name"`
	SendSubject     string   `mapstructure:"send_subject" yaml:"send_subject"`
	PresenceSubject string   `mapstructure:"presence_subject" yaml:"presence_subject"`
	OnlineSubject   string   `mapstructure:"online_subject" yaml:"online_subject"`
	Queue           string   `mapstructure:"queue" yaml:"queue"`
}

type KafkaConfig struct {
	Enabled           bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers           []string `mapstructure:"brokers" yaml:"brokers"`
	ClientID          string   `mapstructure:"client_id" yaml:"client_id"`
	Version           string   `mapstructure:"version" yaml:"version"`
	PresenceTopic     string   `mapstructure:"presence_topic" yaml:"presence_topic"`
	SendTopic         string   `mapstructure:"send_topic" yaml:"send_topic"` // empty disables the consumer
	GroupID           string   `mapstructure:"group_id" yaml:"group_id"`
	Compression       string   `mapstructure:"compression" yaml:"compression"` // none/snappy/lz4/zstd
	InitialOffset     string   `mapstructure:"initial_offset" yaml:"initial_offset"`
	Retries           int      `mapstructure:"retries" yaml:"retries"`
	EnsureTopics      bool     `mapstructure:"ensure_topics" yaml:"ensure_topics"`
	Partitions        int32    `mapstructure:"partitions" yaml:"partitions"`
	ReplicationFactor int16    `mapstructure:"replication_factor" yaml:"replication_factor"`
}

type GrpcConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" yaml:"port"`
}

type NacosConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Host      string `mapstructure:"host" yaml:"host"`
	Port      uint64 `mapstructure:"port" yaml:"port"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
	DataId    string `mapstructure:"data_id" yaml:"data_id"`
	Group     string `mapstructure:"group" yaml:"group"`
	// Register announces this node in Nacos naming under ServiceName.
	Register    bool   `mapstructure:"register" yaml:"register"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AdvertiseIP string `mapstructure:"advertise_ip" yaml:"advertise_ip"`
}

func Default() *AppConfig {
	return &AppConfig{
		NodeId: "relay-1",
		HTTP: HTTPConfig{
			Port:            8900,
			SocketPath:      "/socket",
			AllowedOrigins:  []string{"http://localhost:8081"},
			ShutdownTimeout: 10 * time.Second,
		},
		WS: WSConfig{
			ReadLimit: 64 << 10,
			SendQueue: 256,
			WriteWait: 10 * time.Second,
			PongWait:  60 * time.Second,
		},
		Log:      LogConfig{Level: "info"},
		Presence: PresenceConfig{Policy: PolicyAll, SinkQueue: 128},
		Auth:     AuthConfig{Mode: AuthNone, TokenParam: "token"},
		Redis: RedisConfig{
			Addr:      "127.0.0.1:6379",
			KeyPrefix: "relay",
			TTL:       120 * time.Second,
		},
		Nats: NatsConfig{
			Servers:         []string{"nats://127.0.0.1:4222"},
			Name:            "presence-relay",
			SendSubject:     "relay.send",
			PresenceSubject: "relay.presence",
			OnlineSubject:   "relay.online",
			Queue:           "relay",
		},
		Kafka: KafkaConfig{
			Brokers:           []string{"127.0.0.1:9092"},
			ClientID:          "presence-relay",
			Version:           "2.1.0",
			PresenceTopic:     "relay.presence",
			SendTopic:         "relay.send",
			GroupID:           "presence-relay",
			Compression:       "snappy",
			InitialOffset:     "newest",
			Retries:           5,
			Partitions:        8,
			ReplicationFactor: 1,
		},
		Grpc: GrpcConfig{Port: 8901},
		Nacos: NacosConfig{
			Host:        "127.0.0.1",
			Port:        8848,
			DataId:      "presence-relay.yaml",
			Group:       "DEFAULT_GROUP",
			ServiceName: "presence-relay",
		},
	}
}

// Clone returns a copy that shares no slices with c.
func (c *AppConfig) Clone() *AppConfig {
	out := *c
	out.HTTP.AllowedOrigins = append([]string(nil), c.HTTP.AllowedOrigins...)
	out.Nats.Servers = append([]string(nil), c.Nats.Servers...)
	out.Kafka.Brokers = append([]string(nil), c.Kafka.Brokers...)
	return &out
}

// Load builds the configuration from defaults, the optional YAML file at path,
// the optional .env file next to the working directory and RELAY_* variables,
// in that order of precedence (last wins).
func Load(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errs.ErrConfig.WrapMsg("load .env", "err", err)
	}

	conf := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.ErrConfig.WrapMsg("read config file", "path", path, "err", err)
		}
		if conf, err = Merge(conf, raw); err != nil {
			return nil, err
		}
	}

	if err := decode(envOverrides(os.LookupEnv), conf); err != nil {
		return nil, errs.ErrConfig.WrapMsg("apply env overrides", "err", err)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Merge decodes a YAML document over a copy of base. Keys absent from the
// document keep base values.
func Merge(base *AppConfig, doc []byte) (*AppConfig, error) {
	m := map[string]any{}
	if err := yaml.Unmarshal(doc, &m); err != nil {
		return nil, errs.ErrConfig.WrapMsg("parse yaml", "err", err)
	}
	out := base.Clone()
	if err := decode(m, out); err != nil {
		return nil, errs.ErrConfig.WrapMsg("decode yaml", "err", err)
	}
	return out, nil
}

func (c *AppConfig) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errs.ErrConfig.WrapMsg("http.port out of range", "port", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.HTTP.SocketPath, "/") {
		return errs.ErrConfig.WrapMsg("http.socket_path must start with /", "path", c.HTTP.SocketPath)
	}
	switch c.Presence.Policy {
	case PolicyAll, PolicyExcludeSelf:
	default:
		return errs.ErrConfig.WrapMsg("unknown presence.policy", "policy", c.Presence.Policy)
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthJWT:
		if c.Auth.Secret == "" {
			return errs.ErrConfig.WrapMsg("auth.secret required for jwt mode")
		}
	default:
		return errs.ErrConfig.WrapMsg("unknown auth.mode", "mode", c.Auth.Mode)
	}
	if c.Grpc.Enabled && c.Grpc.Port == c.HTTP.Port {
		return errs.ErrConfig.WrapMsg("grpc.port collides with http.port", "port", c.Grpc.Port)
	}
	if c.Nats.Enabled && len(c.Nats.Servers) == 0 {
		return errs.ErrConfig.WrapMsg("nats.servers empty")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.PresenceTopic == "") {
		return errs.ErrConfig.WrapMsg("kafka.brokers and kafka.presence_topic required")
	}
	return nil
}

func decode(in map[string]any, out *AppConfig) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ZeroFields:       true, // a later layer's list replaces, never patches, the earlier one
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// envOverrides collects RELAY_<SECTION>_<KEY> variables into the nested map
// shape decode expects. Keys are derived from the mapstructure tags.
func envOverrides(lookup func(string) (string, bool)) map[string]any {
	out := map[string]any{}
	for _, p := range keyPaths(reflect.TypeOf(AppConfig{}), nil) {
		name := EnvPrefix + "_" + strings.ToUpper(strings.Join(p, "_"))
		v, ok := lookup(name)
		if !ok {
			continue
		}
		node := out
		for _, k := range p[:len(p)-1] {
			next, ok := node[k].(map[string]any)
			if !ok {
				next = map[string]any{}
				node[k] = next
			}
			node = next
		}
		node[p[len(p)-1]] = v
	}
	return out
}

func keyPaths(t reflect.Type, prefix []string) [][]string {
	var out [][]string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		p := append(append([]string(nil), prefix...), tag)
		if f.Type.Kind() == reflect.Struct {
			out = append(out, keyPaths(f.Type, p)...)
			continue
		}
		out = append(out, p)
	}
	return out
}
