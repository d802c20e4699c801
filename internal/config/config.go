package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"faultline/internal/constants"
)

const (
	RuntimeDocker     = "docker"
	RuntimeKubernetes = "kubernetes"
)

// Settings holds every tunable of the control plane. Values come from
// defaults, an optional YAML file and FAULTLINE_* environment variables,
// in increasing precedence.
type Settings struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`

	Runtime       string `mapstructure:"runtime"`
	Image         string `mapstructure:"image"`
	Network       string `mapstructure:"network"`
	BasePort      int    `mapstructure:"base_port"`
	MemoryLimitMB int64  `mapstructure:"memory_limit_mb"`

	Kubeconfig    string `mapstructure:"kubeconfig"`
	KubeNamespace string `mapstructure:"kube_namespace"`

	NodeSettleTimeout    time.Duration `mapstructure:"node_settle_timeout"`
	MemberSettleTimeout  time.Duration `mapstructure:"member_settle_timeout"`
	ElectionTimeout      time.Duration `mapstructure:"election_timeout"`
	StepDownPollInterval time.Duration `mapstructure:"step_down_poll_interval"`
	StepDownPollWindow   time.Duration `mapstructure:"step_down_poll_window"`

	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
	LogPollInterval time.Duration `mapstructure:"log_poll_interval"`
	LogTailLines    int           `mapstructure:"log_tail_lines"`

	ConnectTimeout         time.Duration `mapstructure:"connect_timeout"`
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`

	CleanupOnShutdown bool `mapstructure:"cleanup_on_shutdown"`
}

// Load builds Settings. path may be empty, in which case only defaults and
// environment variables apply.
func Load(path string) (Settings, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("runtime", RuntimeDocker)
	v.SetDefault("image", constants.MongoImage)
	v.SetDefault("network", constants.SharedNetwork)
	v.SetDefault("base_port", constants.DefaultBasePort)
	v.SetDefault("memory_limit_mb", constants.MemoryLimitMB)
	v.SetDefault("kubeconfig", "")
	v.SetDefault("kube_namespace", constants.KubeNamespace)
	v.SetDefault("node_settle_timeout", constants.NodeSettleTimeout)
	v.SetDefault("member_settle_timeout", constants.MemberSettleTimeout)
	v.SetDefault("election_timeout", constants.ElectionTimeout)
	v.SetDefault("step_down_poll_interval", constants.StepDownPollInterval)
	v.SetDefault("step_down_poll_window", constants.StepDownPollWindow)
	v.SetDefault("monitor_interval", constants.MonitorInterval)
	v.SetDefault("log_poll_interval", constants.LogPollInterval)
	v.SetDefault("log_tail_lines", constants.LogTailLines)
	v.SetDefault("connect_timeout", constants.ConnectTimeout)
	v.SetDefault("server_selection_timeout", constants.ServerSelectionTimeout)
	v.SetDefault("cleanup_on_shutdown", true)

	v.SetEnvPrefix("FAULTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	switch s.Runtime {
	case RuntimeDocker, RuntimeKubernetes:
	default:
		return fmt.Errorf("unknown runtime %q (want %s or %s)", s.Runtime, RuntimeDocker, RuntimeKubernetes)
	}
	if s.BasePort < 1024 || s.BasePort > 65535 {
		return fmt.Errorf("base_port %d out of range 1024-65535", s.BasePort)
	}
	if s.MonitorInterval <= 0 {
		return fmt.Errorf("monitor_interval must be positive")
	}
	if s.LogPollInterval <= 0 {
		return fmt.Errorf("log_poll_interval must be positive")
	}
	if s.LogTailLines <= 0 {
		return fmt.Errorf("log_tail_lines must be positive")
	}
	return nil
}
