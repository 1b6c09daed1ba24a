package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LoadCookieFile reads a JSON cookie array from path. Expired cookies are
// dropped. A missing file is reported with os.ErrNotExist.
func LoadCookieFile(path string) ([]Cookie, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("parse cookie file %s: %w", path, err)
	}

	now := time.Now()
	live := cookies[:0]
	for _, c := range cookies {
		if c.Name == "" || c.Expired(now) {
			continue
		}
		live = append(live, c)
	}
	return live, nil
}

// SaveCookieFile writes cookies to path via a temp file and rename so a
// crash never leaves a truncated file behind.
func SaveCookieFile(path string, cookies []Cookie) error {
	if cookies == nil {
		cookies = []Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cookies-*.json")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cookies: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod cookies: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cookies: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace cookie file: %w", err)
	}
	return nil
}
