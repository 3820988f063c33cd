// Package config loads backtest configuration from file and environment.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/admf-trader/backtest-engine/pkg/types"
)

// Load reads the configuration from the given file (YAML/JSON/TOML by
// extension). Environment variables prefixed ADMF_ override file values,
// e.g. ADMF_INITIAL_CAPITAL or ADMF_BROKER_FILL_MODEL.
func Load(path string) (*types.BacktestConfig, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("backtest")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("ADMF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*types.BacktestConfig, error) {
	var cfg types.BacktestConfig
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// decimalHook decodes numbers and numeric strings into decimal.Decimal.
func decimalHook() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(_, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return decimal.NewFromString(value)
		case float64:
			return decimal.NewFromFloat(value), nil
		case float32:
			return decimal.NewFromFloat32(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		default:
			return data, nil
		}
	}
}
