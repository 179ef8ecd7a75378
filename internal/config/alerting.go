package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	ChannelEmail = "email"
	ChannelSlack = "slack"
)

// AlertingConfig controls which anomalies are delivered and where.
type AlertingConfig struct {
	MinSeverity string   `mapstructure:"minSeverity"`
	Channels    []string `mapstructure:"channels"`
}

func DefaultAlertingConfig() AlertingConfig {
	return AlertingConfig{
		MinSeverity: "warning",
		Channels:    []string{ChannelEmail, ChannelSlack},
	}
}

// ChannelEnabled reports whether the named channel is listed.
func (c AlertingConfig) ChannelEnabled(name string) bool {
	for _, ch := range c.Channels {
		if strings.EqualFold(strings.TrimSpace(ch), name) {
			return true
		}
	}
	return false
}

type AlertingConfigHolder struct {
	current atomic.Value // holds AlertingConfig
}

// NewStaticAlertingHolder returns a holder that never reloads.
func NewStaticAlertingHolder(cfg AlertingConfig) *AlertingConfigHolder {
	holder := &AlertingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewAlertingConfigHolder(log *zap.Logger) (*AlertingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("alerting")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/costwatch")
	v.AddConfigPath(".")

	v.SetEnvPrefix("COSTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAlertingConfig()
	v.SetDefault("alerting.minSeverity", defaults.MinSeverity)
	v.SetDefault("alerting.channels", defaults.Channels)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg AlertingConfig
	if err := v.UnmarshalKey("alerting", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateAlertingConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticAlertingHolder(cfg)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AlertingConfig
		if err := v.UnmarshalKey("alerting", &updated); err != nil {
			log.Warn("alerting config reload failed", zap.Error(err))
			return
		}
		if err := ValidateAlertingConfig(updated); err != nil {
			log.Warn("alerting config invalid, ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("alerting config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *AlertingConfigHolder) Get() AlertingConfig {
	return h.current.Load().(AlertingConfig)
}

func ValidateAlertingConfig(cfg AlertingConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.MinSeverity)) {
	case "info", "warning", "critical":
	default:
		return fmt.Errorf("alerting.minSeverity %q is not one of info, warning, critical", cfg.MinSeverity)
	}
	for _, ch := range cfg.Channels {
		switch strings.ToLower(strings.TrimSpace(ch)) {
		case ChannelEmail, ChannelSlack:
		default:
			return fmt.Errorf("alerting.channels contains unknown channel %q", ch)
		}
	}
	return nil
}
