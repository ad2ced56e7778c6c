// SPDX-License-Identifier: GPL-3.0-or-later

package reqflow

import (
	"slices"

	"github.com/bmatcuk/doublestar/v4"
)

// NetworkSettings is the effective network policy for a hostname.
//
// Empty strings mean "not configured". Values are computed per request by
// [ResolveNetworkSettings] and never mutated afterwards.
type NetworkSettings struct {
	// EnableNetwork is false when requests to the hostname must be blocked.
	EnableNetwork bool

	// HTTPProxy is the proxy URL used for http:// targets.
	HTTPProxy string

	// HTTPSProxy is the proxy URL used for https:// targets.
	HTTPSProxy string

	// HTTPSCAFilePath names a PEM bundle replacing the system roots.
	HTTPSCAFilePath string

	// HTTPSCertFilePath names the PEM client certificate.
	HTTPSCertFilePath string

	// HTTPSKeyFilePath names the PEM client key.
	HTTPSKeyFilePath string
}

// SettingsPatch is a partial [NetworkSettings]. A nil field does not set
// the corresponding setting, so less specific rules and then the defaults
// still get a chance to provide it.
type SettingsPatch struct {
	EnableNetwork     *bool
	HTTPProxy         *string
	HTTPSProxy        *string
	HTTPSCAFilePath   *string
	HTTPSCertFilePath *string
	HTTPSKeyFilePath  *string
}

// SettingsRule applies a [SettingsPatch] to every hostname matching Pattern.
//
// Pattern is a shell-style glob (`*`, `?`, `[a-z]`, `{a,b}`) matched against
// the hostname alone, never the full URL.
type SettingsRule struct {
	Pattern  string
	Settings SettingsPatch
}

// ResolveNetworkSettings merges the rules matching hostname on top of defaults.
//
// Rules are considered from the longest pattern to the shortest, with the
// original order breaking ties. For each field the first matching rule that
// sets it wins; fields set by no matching rule come from defaults. Patterns
// that fail to parse never match. The rules slice is not modified.
func ResolveNetworkSettings(hostname string, rules []SettingsRule, defaults NetworkSettings) NetworkSettings {
	ordered := slices.Clone(rules)
	slices.SortStableFunc(ordered, func(a, b SettingsRule) int {
		return len(b.Pattern) - len(a.Pattern)
	})

	var merged SettingsPatch
	for _, rule := range ordered {
		if !matchHostname(hostname, rule.Pattern) {
			continue
		}
		mergeSetting(&merged.EnableNetwork, rule.Settings.EnableNetwork)
		mergeSetting(&merged.HTTPProxy, rule.Settings.HTTPProxy)
		mergeSetting(&merged.HTTPSProxy, rule.Settings.HTTPSProxy)
		mergeSetting(&merged.HTTPSCAFilePath, rule.Settings.HTTPSCAFilePath)
		mergeSetting(&merged.HTTPSCertFilePath, rule.Settings.HTTPSCertFilePath)
		mergeSetting(&merged.HTTPSKeyFilePath, rule.Settings.HTTPSKeyFilePath)
	}

	return NetworkSettings{
		EnableNetwork:     settingOr(merged.EnableNetwork, defaults.EnableNetwork),
		HTTPProxy:         settingOr(merged.HTTPProxy, defaults.HTTPProxy),
		HTTPSProxy:        settingOr(merged.HTTPSProxy, defaults.HTTPSProxy),
		HTTPSCAFilePath:   settingOr(merged.HTTPSCAFilePath, defaults.HTTPSCAFilePath),
		HTTPSCertFilePath: settingOr(merged.HTTPSCertFilePath, defaults.HTTPSCertFilePath),
		HTTPSKeyFilePath:  settingOr(merged.HTTPSKeyFilePath, defaults.HTTPSKeyFilePath),
	}
}

func mergeSetting[T any](dst **T, value *T) {
	if *dst == nil && value != nil {
		*dst = value
	}
}

func settingOr[T any](value *T, fallback T) T {
	if value != nil {
		return *value
	}
	return fallback
}

// matchHostname reports whether hostname matches the glob pattern.
func matchHostname(hostname, pattern string) bool {
	ok, err := doublestar.Match(pattern, hostname)
	return err == nil && ok
}

// matchAnyHostname reports whether hostname matches any of patterns.
func matchAnyHostname(hostname string, patterns []string) bool {
	return slices.ContainsFunc(patterns, func(pattern string) bool {
		return matchHostname(hostname, pattern)
	})
}

// Bool returns a pointer to v, for filling [SettingsPatch] literals.
func Bool(v bool) *bool {
	return &v
}

// String returns a pointer to v, for filling [SettingsPatch] literals.
func String(v string) *string {
	return &v
}
