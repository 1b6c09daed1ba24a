package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Zero values leave base untouched
// except for booleans, which are copied whenever the key is present.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	s, o := &base.Server, override.Server
	setString(&s.Bind, o.Bind)
	if fieldSet(raw, "server", "allow_remote") {
		s.AllowRemote = o.AllowRemote
	}
	if fieldSet(raw, "server", "cors_origins") {
		s.CORSOrigins = append([]string(nil), o.CORSOrigins...)
	}
	if fieldSet(raw, "server", "rate_limit") {
		s.RateLimit = o.RateLimit
	}
	if o.RateBurst != 0 {
		s.RateBurst = o.RateBurst
	}
	setDuration(&s.ReadTimeout, o.ReadTimeout)
	setDuration(&s.WriteTimeout, o.WriteTimeout)
	setDuration(&s.IdleTimeout, o.IdleTimeout)

	b, ob := &base.Browser, override.Browser
	if fieldSet(raw, "browser", "headless") {
		b.Headless = ob.Headless
	}
	setString(&b.ExecPath, ob.ExecPath)
	setString(&b.UserDataDir, ob.UserDataDir)
	setString(&b.UserAgent, ob.UserAgent)
	if ob.ViewportWidth != 0 {
		b.ViewportWidth = ob.ViewportWidth
	}
	if ob.ViewportHeight != 0 {
		b.ViewportHeight = ob.ViewportHeight
	}
	setDuration(&b.StartupTimeout, ob.StartupTimeout)

	ss, oss := &base.Session, override.Session
	setString(&ss.BaseURL, oss.BaseURL)
	setString(&ss.CookieFile, oss.CookieFile)
	setString(&ss.ProbeSelector, oss.ProbeSelector)
	setString(&ss.InputSelector, oss.InputSelector)
	setString(&ss.EndpointMarker, oss.EndpointMarker)
	setDuration(&ss.ProbeTimeout, oss.ProbeTimeout)
	setDuration(&ss.RecoveryProbeTimeout, oss.RecoveryProbeTimeout)
	setDuration(&ss.NavigateTimeout, oss.NavigateTimeout)
	if fieldSet(raw, "session", "render_pause") {
		ss.RenderPause = oss.RenderPause
	}

	r, or := &base.Relay, override.Relay
	setDuration(&r.ChunkTimeout, or.ChunkTimeout)
	if fieldSet(raw, "relay", "settle_delay") {
		r.SettleDelay = or.SettleDelay
	}
	if fieldSet(raw, "relay", "type_delay") {
		r.TypeDelay = or.TypeDelay
	}
	if fieldSet(raw, "relay", "save_cookies") {
		r.SaveCookies = or.SaveCookies
	}

	l, ol := &base.Logging, override.Logging
	setString(&l.Dir, ol.Dir)
	setString(&l.Level, ol.Level)
	if fieldSet(raw, "logging", "trace") {
		l.Trace = ol.Trace
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func fieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
