// Package settings holds the four provisioned device settings and the
// store they persist in.
package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	appLog "echokit/internal/log"
)

// ErrReleased is returned by a Shared handle after its loan ended.
var ErrReleased = errors.New("settings: loan returned")

// Background is the optional animated background image.
type Background struct {
	Data []byte
	// Updated is set when Data was received during this boot and has not
	// been persisted yet.
	Updated bool
}

// Settings is the in-memory copy of the persisted settings.
type Settings struct {
	SSID      string
	Pass      string
	ServerURL string
	Background
}

// Valid reports whether the settings are complete enough to leave
// provisioning.
func (s Settings) Valid() bool {
	return s.SSID != "" && s.Pass != "" && s.ServerURL != ""
}

// Load reads all settings. A field that cannot be read is logged and left
// empty, which routes the device to provisioning.
func Load(ctx context.Context, st Store) Settings {
	var s Settings
	readString := func(key string, dst *string) {
		v, err := st.GetString(ctx, key)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				appLog.Error("failed to read setting", err, "key", key)
			}
			return
		}
		*dst = v
	}
	readString(KeySSID, &s.SSID)
	readString(KeyPass, &s.Pass)
	readString(KeyServerURL, &s.ServerURL)

	bg, err := st.GetBlob(ctx, KeyBackground)
	switch {
	case err == nil:
		s.Background.Data = bg
	case !errors.Is(err, ErrNotFound):
		appLog.Error("failed to read setting", err, "key", KeyBackground)
	}
	return s
}

// SaveBackground persists the background image if it was updated and is
// non-empty. It clears the Updated flag on success.
func SaveBackground(ctx context.Context, st Store, s *Settings) error {
	if !s.Background.Updated || len(s.Background.Data) == 0 {
		return nil
	}
	if err := st.SetBlob(ctx, KeyBackground, s.Background.Data); err != nil {
		return fmt.Errorf("settings: persist background: %w", err)
	}
	s.Background.Updated = false
	return nil
}

// Shared is a mutex-guarded loan of the owner's Settings to the
// provisioning transport. String fields are written through to the store
// as they arrive; the background stays in memory until the owner persists
// it. After Return every method fails with ErrReleased.
type Shared struct {
	mu       sync.Mutex
	s        Settings
	store    Store
	released bool
}

// Lend starts a loan of s. The owner must not touch s until Return.
func Lend(s Settings, store Store) *Shared {
	return &Shared{s: s, store: store}
}

// Return ends the loan and hands the possibly modified settings back.
func (sh *Shared) Return() Settings {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.released = true
	out := sh.s
	out.Background.Data = append([]byte(nil), sh.s.Background.Data...)
	return out
}

// Snapshot returns a copy of the current settings.
func (sh *Shared) Snapshot() (Settings, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.released {
		return Settings{}, ErrReleased
	}
	out := sh.s
	out.Background.Data = append([]byte(nil), sh.s.Background.Data...)
	return out, nil
}

func (sh *Shared) SetSSID(ctx context.Context, v string) error {
	return sh.setString(ctx, KeySSID, v, &sh.s.SSID)
}

func (sh *Shared) SetPass(ctx context.Context, v string) error {
	return sh.setString(ctx, KeyPass, v, &sh.s.Pass)
}

func (sh *Shared) SetServerURL(ctx context.Context, v string) error {
	return sh.setString(ctx, KeyServerURL, v, &sh.s.ServerURL)
}

func (sh *Shared) setString(ctx context.Context, key, v string, dst *string) error {
	if err := checkSize(key, len(v)); err != nil {
		return err
	}
	sh.mu.Lock()
	if sh.released {
		sh.mu.Unlock()
		return ErrReleased
	}
	*dst = v
	sh.mu.Unlock()

	// The store write happens outside the lock.
	return sh.store.SetString(ctx, key, v)
}

// BeginBackground discards any partially received background.
func (sh *Shared) BeginBackground() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.released {
		return ErrReleased
	}
	sh.s.Background = Background{}
	return nil
}

// AppendBackground appends one chunk of a background image transfer.
func (sh *Shared) AppendBackground(chunk []byte) error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.released {
		return ErrReleased
	}
	if err := checkSize(KeyBackground, len(sh.s.Background.Data)+len(chunk)); err != nil {
		return err
	}
	sh.s.Background.Data = append(sh.s.Background.Data, chunk...)
	sh.s.Background.Updated = false
	return nil
}

// FinishBackground marks the received background as updated.
func (sh *Shared) FinishBackground() error {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.released {
		return ErrReleased
	}
	sh.s.Background.Updated = len(sh.s.Background.Data) > 0
	return nil
}
