// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Configuration file keys. Viper matches keys case-insensitively.
const (
	keyNetworkSettings     = "networkSettings"
	keyHTTPTimeout         = "httpTimeout"
	keyHTTPRetry           = "httpRetry"
	keyEnableStrictSSL     = "enableStrictSsl"
	keyUnsafeHTTPWhitelist = "unsafeHttpWhitelist"
	keyNetworkConcurrency  = "networkConcurrency"
	keyEnableNetwork       = "enableNetwork"
	keyHTTPProxy           = "httpProxy"
	keyHTTPSProxy          = "httpsProxy"
	keyHTTPSCAFilePath     = "httpsCaFilePath"
	keyHTTPSCertFilePath   = "httpsCertFilePath"
	keyHTTPSKeyFilePath    = "httpsKeyFilePath"
)

// LoadConfigFile reads a JSON, YAML or TOML configuration file from fs.
//
// The format follows the file extension. Top-level settings may be overridden
// with REQFLOW_-prefixed environment variables (e.g. REQFLOW_HTTPRETRY). The
// top-level enableNetwork, proxy and TLS file settings become [Config.Defaults];
// networkSettings maps hostname globs to objects with the same keys, and a
// null value leaves the setting to less specific rules. httpTimeout is
// expressed in milliseconds.
//
// Keys are case-insensitive, so the order of networkSettings entries is not
// preserved: rules of equal pattern length are ordered lexicographically.
//
// Fields that cannot be expressed in a file keep the [NewConfig] defaults and
// the returned config uses fs for TLS material.
func LoadConfigFile(fs afero.Fs, path string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetFs(fs)
	v.SetConfigFile(path)
	v.SetEnvPrefix("REQFLOW")
	v.AutomaticEnv()

	cfg := NewConfig()
	cfg.FS = fs
	setConfigDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reqflow: cannot read config file %s: %w", path, err)
	}

	var err error
	if cfg.Defaults, err = decodeNetworkSettings(v); err != nil {
		return nil, fmt.Errorf("reqflow: %s: %w", path, err)
	}
	if cfg.NetworkSettings, err = decodeSettingsRules(v.Get(keyNetworkSettings)); err != nil {
		return nil, fmt.Errorf("reqflow: %s: %s: %w", path, keyNetworkSettings, err)
	}

	timeout, err := cast.ToInt64E(v.Get(keyHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("reqflow: %s: %s: %w", path, keyHTTPTimeout, err)
	}
	cfg.HTTPTimeout = time.Duration(timeout) * time.Millisecond

	if cfg.HTTPRetry, err = cast.ToIntE(v.Get(keyHTTPRetry)); err != nil {
		return nil, fmt.Errorf("reqflow: %s: %s: %w", path, keyHTTPRetry, err)
	}
	if cfg.EnableStrictSSL, err = cast.ToBoolE(v.Get(keyEnableStrictSSL)); err != nil {
		return nil, fmt.Errorf("reqflow: %s: %s: %w", path, keyEnableStrictSSL, err)
	}
	if cfg.UnsafeHTTPWhitelist, err = cast.ToStringSliceE(v.Get(keyUnsafeHTTPWhitelist)); err != nil {
		return nil, fmt.Errorf("reqflow: %s: %s: %w", path, keyUnsafeHTTPWhitelist, err)
	}
	concurrency, err := cast.ToInt64E(v.Get(keyNetworkConcurrency))
	if err != nil {
		return nil, fmt.Errorf("reqflow: %s: %s: %w", path, keyNetworkConcurrency, err)
	}
	cfg.Limits[NetworkConcurrency] = concurrency

	return cfg, nil
}

func setConfigDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault(keyHTTPTimeout, cfg.HTTPTimeout.Milliseconds())
	v.SetDefault(keyHTTPRetry, cfg.HTTPRetry)
	v.SetDefault(keyEnableStrictSSL, cfg.EnableStrictSSL)
	v.SetDefault(keyUnsafeHTTPWhitelist, cfg.UnsafeHTTPWhitelist)
	v.SetDefault(keyNetworkConcurrency, cfg.Limits[NetworkConcurrency])
	v.SetDefault(keyEnableNetwork, cfg.Defaults.EnableNetwork)
	v.SetDefault(keyHTTPProxy, "")
	v.SetDefault(keyHTTPSProxy, "")
	v.SetDefault(keyHTTPSCAFilePath, "")
	v.SetDefault(keyHTTPSCertFilePath, "")
	v.SetDefault(keyHTTPSKeyFilePath, "")
}

// decodeNetworkSettings reads the top-level (default) network settings.
func decodeNetworkSettings(v *viper.Viper) (NetworkSettings, error) {
	var (
		settings NetworkSettings
		err      error
	)
	if settings.EnableNetwork, err = cast.ToBoolE(v.Get(keyEnableNetwork)); err != nil {
		return settings, fmt.Errorf("%s: %w", keyEnableNetwork, err)
	}
	for key, dst := range settingsStringFields(&settings) {
		if *dst, err = cast.ToStringE(v.Get(key)); err != nil {
			return settings, fmt.Errorf("%s: %w", key, err)
		}
	}
	return settings, nil
}

// decodeSettingsRules turns the networkSettings object into ordered rules.
func decodeSettingsRules(value any) ([]SettingsRule, error) {
	if value == nil {
		return []SettingsRule{}, nil
	}
	table, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, err
	}
	rules := make([]SettingsRule, 0, len(table))
	for _, pattern := range slices.Sorted(maps.Keys(table)) {
		patch, err := decodeSettingsPatch(table[pattern])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", pattern, err)
		}
		rules = append(rules, SettingsRule{Pattern: pattern, Settings: patch})
	}
	return rules, nil
}

func decodeSettingsPatch(value any) (SettingsPatch, error) {
	var patch SettingsPatch
	if value == nil {
		return patch, nil
	}
	fields, err := cast.ToStringMapE(value)
	if err != nil {
		return patch, err
	}
	fields = lowerKeys(fields)

	if raw := fields[strings.ToLower(keyEnableNetwork)]; raw != nil {
		enable, err := cast.ToBoolE(raw)
		if err != nil {
			return patch, fmt.Errorf("%s: %w", keyEnableNetwork, err)
		}
		patch.EnableNetwork = &enable
	}
	for key, dst := range settingsPatchStringFields(&patch) {
		raw := fields[strings.ToLower(key)]
		if raw == nil {
			continue
		}
		value, err := cast.ToStringE(raw)
		if err != nil {
			return patch, fmt.Errorf("%s: %w", key, err)
		}
		*dst = &value
	}
	return patch, nil
}

func settingsStringFields(s *NetworkSettings) map[string]*string {
	return map[string]*string{
		keyHTTPProxy:         &s.HTTPProxy,
		keyHTTPSProxy:        &s.HTTPSProxy,
		keyHTTPSCAFilePath:   &s.HTTPSCAFilePath,
		keyHTTPSCertFilePath: &s.HTTPSCertFilePath,
		keyHTTPSKeyFilePath:  &s.HTTPSKeyFilePath,
	}
}

func settingsPatchStringFields(p *SettingsPatch) map[string]**string {
	return map[string]**string{
		keyHTTPProxy:         &p.HTTPProxy,
		keyHTTPSProxy:        &p.HTTPSProxy,
		keyHTTPSCAFilePath:   &p.HTTPSCAFilePath,
		keyHTTPSCertFilePath: &p.HTTPSCertFilePath,
		keyHTTPSKeyFilePath:  &p.HTTPSKeyFilePath,
	}
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for key, value := range m {
		out[strings.ToLower(key)] = value
	}
	return out
}
