package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// GatewayConfigHolder serves the current M-Pesa gateway settings. Operators
// rotate credentials by editing gateway.yml; the holder reloads on change so
// the process does not need a restart mid-campaign.
type GatewayConfigHolder struct {
	current atomic.Value // holds MpesaConfig
}

func NewGatewayConfigHolder(cfg Config) (*GatewayConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/portal/config")
	v.AddConfigPath("/etc/portal")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &GatewayConfigHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// no file: fall back to the environment-derived settings
		holder.current.Store(cfg.Mpesa)
		return holder, nil
	}

	loaded, err := unmarshalGateway(v, cfg.Mpesa)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalGateway(v, cfg.Mpesa)
		if err != nil {
			log.Printf("[gateway-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticGatewayConfig builds a holder with fixed settings and no
// file watching. Used in tests.
func NewStaticGatewayConfig(mc MpesaConfig) *GatewayConfigHolder {
	holder := &GatewayConfigHolder{}
	holder.current.Store(mc)
	return holder
}

func (h *GatewayConfigHolder) Get() MpesaConfig {
	return h.current.Load().(MpesaConfig)
}

func unmarshalGateway(v *viper.Viper, fallback MpesaConfig) (MpesaConfig, error) {
	var cfg MpesaConfig
	if err := v.UnmarshalKey("mpesa", &cfg); err != nil {
		return MpesaConfig{}, err
	}
	if cfg.Environment == "" {
		cfg.Environment = fallback.Environment
	}
	if cfg.CallbackSecret == "" {
		cfg.CallbackSecret = fallback.CallbackSecret
	}
	if err := validateGatewayConfig(cfg); err != nil {
		return MpesaConfig{}, err
	}
	return cfg, nil
}

func validateGatewayConfig(cfg MpesaConfig) error {
	if strings.TrimSpace(cfg.ShortCode) == "" {
		return errors.New("mpesa.shortCode cannot be empty")
	}
	if strings.TrimSpace(cfg.ConsumerKey) == "" || strings.TrimSpace(cfg.ConsumerSecret) == "" {
		return errors.New("mpesa consumer credentials cannot be empty")
	}
	if strings.TrimSpace(cfg.Passkey) == "" {
		return errors.New("mpesa.passkey cannot be empty")
	}
	return nil
}
