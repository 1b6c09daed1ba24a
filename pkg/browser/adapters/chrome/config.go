package chrome

import (
	"errors"
	"strings"
	"time"

	"github.com/Kunsh1/spin-gpt/pkg/browser"
)

// Config controls how the chromedp adapter launches and drives the page.
type Config struct {
	Headless       bool
	ExecPath       string
	UserDataDir    string
	UserAgent      string
	Viewport       browser.Viewport
	StartupTimeout time.Duration

	BaseURL         string
	Selectors       browser.Selectors
	EndpointMarker  string
	NavigateTimeout time.Duration
	InputTimeout    time.Duration
	TypeDelay       time.Duration

	// ExtraFlags are passed to the browser process as --name=value.
	ExtraFlags map[string]any
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Headless:        true,
		Viewport:        browser.Viewport{Width: 1280, Height: 800},
		StartupTimeout:  60 * time.Second,
		Selectors:       browser.Selectors{Probe: "#prompt-textarea", Input: "div[contenteditable='true']"},
		EndpointMarker:  "conversation",
		NavigateTimeout: 30 * time.Second,
		InputTimeout:    5 * time.Second,
		TypeDelay:       500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	out := c
	if out.Viewport.Width <= 0 || out.Viewport.Height <= 0 {
		out.Viewport = defaults.Viewport
	}
	if out.StartupTimeout <= 0 {
		out.StartupTimeout = defaults.StartupTimeout
	}
	if strings.TrimSpace(out.Selectors.Probe) == "" {
		out.Selectors.Probe = defaults.Selectors.Probe
	}
	if strings.TrimSpace(out.Selectors.Input) == "" {
		out.Selectors.Input = defaults.Selectors.Input
	}
	if strings.TrimSpace(out.EndpointMarker) == "" {
		out.EndpointMarker = defaults.EndpointMarker
	}
	if out.NavigateTimeout <= 0 {
		out.NavigateTimeout = defaults.NavigateTimeout
	}
	if out.InputTimeout <= 0 {
		out.InputTimeout = defaults.InputTimeout
	}
	if out.TypeDelay < 0 {
		out.TypeDelay = 0
	}
	return out
}

// Validate checks whether the config is usable.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base_url is required")
	}
	if c.StartupTimeout < 0 {
		return errors.New("startup_timeout must be zero or positive")
	}
	return nil
}
