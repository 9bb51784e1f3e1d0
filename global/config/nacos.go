package config

import (
	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"

	"PRelay/tools/errs"
)

// RemoteSource pulls a YAML overlay from Nacos and pushes every later
// revision to the registered callback.
type RemoteSource struct {
	conf   NacosConfig
	client config_client.IConfigClient
	log    *zap.Logger
}

func NewRemoteSource(conf NacosConfig, log *zap.Logger) (*RemoteSource, error) {
	serverConfigs := []constant.ServerConfig{
		*constant.NewServerConfig(conf.Host, conf.Port),
	}
	clientConfig := *constant.NewClientConfig(
		constant.WithTimeoutMs(5000),
		constant.WithNamespaceId(conf.Namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogLevel("warn"),
	)
	client, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &clientConfig,
		ServerConfigs: serverConfigs,
	})
	if err != nil {
		return nil, errs.ErrConfig.WrapMsg("nacos client", "host", conf.Host, "err", err)
	}
	return &RemoteSource{conf: conf, client: client, log: log}, nil
}

func (s *RemoteSource) param() vo.ConfigParam {
	return vo.ConfigParam{DataId: s.conf.DataId, Group: s.conf.Group}
}

// Fetch returns the current overlay merged over base.
func (s *RemoteSource) Fetch(base *AppConfig) (*AppConfig, error) {
	content, err := s.client.GetConfig(s.param())
	if err != nil {
		return nil, errs.ErrConfig.WrapMsg("nacos get config", "data_id", s.conf.DataId, "err", err)
	}
	if content == "" {
		return base.Clone(), nil
	}
	return Merge(base, []byte(content))
}

// Watch calls onChange with base merged under each new overlay revision.
// Revisions that fail to parse or validate are logged and skipped.
func (s *RemoteSource) Watch(base *AppConfig, onChange func(*AppConfig)) error {
	p := s.param()
	p.OnChange = func(namespace, group, dataId, data string) {
		next, err := Merge(base, []byte(data))
		if err == nil {
			err = next.Validate()
		}
		if err != nil {
			s.log.Warn("nacos revision rejected", zap.String("data_id", dataId), zap.Error(err))
			return
		}
		s.log.Info("nacos revision applied", zap.String("data_id", dataId), zap.String("group", group))
		onChange(next)
	}
	if err := s.client.ListenConfig(p); err != nil {
		return errs.ErrConfig.WrapMsg("nacos listen", "data_id", s.conf.DataId, "err", err)
	}
	return nil
}

func (s *RemoteSource) Close() {
	_ = s.client.CancelListenConfig(s.param())
	s.client.CloseClient()
}
