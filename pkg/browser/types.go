package browser

import "time"

// Viewport defines the browser viewport size.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Cookie is one persisted authentication cookie. Field names follow the
// storage-state layout written by common automation tools, so cookie files
// exported elsewhere load unchanged.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"` // unix seconds, -1 for session cookies
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Expired reports whether c has a fixed expiry before now.
func (c Cookie) Expired(now time.Time) bool {
	if c.Expires <= 0 {
		return false
	}
	return time.Unix(int64(c.Expires), 0).Before(now)
}

// Selectors names the page elements the relay interacts with.
type Selectors struct {
	// Probe is the element whose visibility means the page is usable.
	Probe string
	// Input is the editable element prompts are typed into.
	Input string
}
