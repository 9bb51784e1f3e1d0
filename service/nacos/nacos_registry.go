package nacos

import (
	"context"
	"net"
	"strconv"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"

	"PRelay/global/config"
	"PRelay/tools/errs"
)

// namingClient is the part of naming_client.INamingClient the registry uses.
type namingClient interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
	CloseClient()
}

// Registry announces this relay node in Nacos service discovery so gateways
// can find a socket endpoint. The instance is ephemeral: Nacos drops it when
// heartbeats stop.
type Registry struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string
	Metadata    map[string]string

	client namingClient
	log    *zap.Logger
}

func NewRegistry(conf config.NacosConfig, ip string, port int, metadata map[string]string, log *zap.Logger) (*Registry, error) {
	client, err := clients.NewNamingClient(vo.NacosClientParam{
		ClientConfig: constant.NewClientConfig(
			constant.WithNamespaceId(conf.Namespace),
			constant.WithTimeoutMs(5000),
			constant.WithNotLoadCacheAtStart(true),
			constant.WithLogLevel("warn"),
		),
		ServerConfigs: []constant.ServerConfig{
			*constant.NewServerConfig(conf.Host, conf.Port),
		},
	})
	if err != nil {
		return nil, errs.ErrConfig.WrapMsg("nacos naming client", "host", conf.Host, "err", err)
	}
	return newRegistry(client, conf, ip, port, metadata, log), nil
}

func newRegistry(client namingClient, conf config.NacosConfig, ip string, port int, metadata map[string]string, log *zap.Logger) *Registry {
	if ip == "" {
		ip = LocalIP()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		ServiceName: conf.ServiceName,
		IP:          ip,
		Port:        uint64(port),
		Group:       conf.Group,
		Metadata:    metadata,
		client:      client,
		log:         log,
	}
}

func (r *Registry) Register() error {
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		ClusterName: "DEFAULT",
		Weight:      1,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    r.Metadata,
	})
	if err != nil {
		return errs.ErrConfig.WrapMsg("nacos register", "service", r.ServiceName, "err", err)
	}
	if !ok {
		return errs.ErrConfig.WrapMsg("nacos register returned false", "service", r.ServiceName)
	}
	r.log.Info("registered in nacos", zap.String("service", r.ServiceName),
		zap.String("addr", net.JoinHostPort(r.IP, strconv.FormatUint(r.Port, 10))))
	return nil
}

// Hold keeps the instance registered until ctx ends, then deregisters it.
func (r *Registry) Hold(ctx context.Context) error {
	<-ctx.Done()
	r.Deregister()
	return nil
}

// Close releases the client without deregistering.
func (r *Registry) Close() { r.client.CloseClient() }

// Deregister removes the instance and closes the client.
func (r *Registry) Deregister() {
	defer r.client.CloseClient()
	ok, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Cluster:     "DEFAULT",
		Ephemeral:   true,
	})
	if err != nil || !ok {
		r.log.Warn("nacos deregister failed", zap.String("service", r.ServiceName), zap.Bool("ok", ok), zap.Error(err))
	}
}

// LocalIP returns the first non-loopback IPv4 address, or 127.0.0.1.
func LocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() {
			if v4 := ipn.IP.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return "127.0.0.1"
}
