package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/bluetooth"

	appLog "echokit/internal/log"
	"echokit/internal/settings"
)

// GATT layout of the provisioning service. Every characteristic is
// write-only; values are raw UTF-8 strings or raw image bytes.
var (
	ServiceUUID         = mustUUID("623fa3e2-631b-4f8f-a6e7-a7b09c03e7e0")
	SSIDUUID            = mustUUID("1fda4d6e-2f14-42b0-96fa-453bed238375")
	PassUUID            = mustUUID("a987ab18-a940-421a-a1d7-b94ee22bccbe")
	ServerURLUUID       = mustUUID("cef520a9-bcb5-4fc6-87f7-82804eee2b20")
	BackgroundBeginUUID = mustUUID("d1f3cf6a-4b1e-4c56-a0d3-0b1e5c2e6a01")
	BackgroundChunkUUID = mustUUID("d1f3cf6a-4b1e-4c56-a0d3-0b1e5c2e6a02")
	BackgroundEndUUID   = mustUUID("d1f3cf6a-4b1e-4c56-a0d3-0b1e5c2e6a03")
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

var errStarted = errors.New("provision: transport already started")

// BLE exposes the provisioning service through the default adapter.
type BLE struct {
	Name    string
	Adapter *bluetooth.Adapter

	mu      sync.Mutex
	adv     *bluetooth.Advertisement
	handler *Handler
	ctx     context.Context
}

func NewBLE(name string) *BLE {
	return &BLE{Name: name, Adapter: bluetooth.DefaultAdapter}
}

// Start registers the GATT service and begins advertising.
func (b *BLE) Start(ctx context.Context, sh *settings.Shared) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.adv != nil {
		return errStarted
	}

	if err := b.Adapter.Enable(); err != nil {
		return fmt.Errorf("provision: enable adapter: %w", err)
	}

	b.handler = &Handler{Shared: sh}
	b.ctx = ctx

	svc := &bluetooth.Service{
		UUID: ServiceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			b.writable(SSIDUUID, FieldSSID),
			b.writable(PassUUID, FieldPass),
			b.writable(ServerURLUUID, FieldServerURL),
			b.writable(BackgroundBeginUUID, FieldBackgroundBegin),
			b.writable(BackgroundChunkUUID, FieldBackgroundChunk),
			b.writable(BackgroundEndUUID, FieldBackgroundEnd),
		},
	}
	if err := b.Adapter.AddService(svc); err != nil {
		return fmt.Errorf("provision: add service: %w", err)
	}

	adv := b.Adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    b.Name,
		ServiceUUIDs: []bluetooth.UUID{ServiceUUID},
	}); err != nil {
		return fmt.Errorf("provision: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("provision: start advertisement: %w", err)
	}
	b.adv = adv

	appLog.Info("bluetooth provisioning started", "name", b.Name)
	return nil
}

func (b *BLE) writable(uuid bluetooth.UUID, f Field) bluetooth.CharacteristicConfig {
	return bluetooth.CharacteristicConfig{
		UUID:  uuid,
		Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
		WriteEvent: func(_ bluetooth.Connection, _ int, value []byte) {
			b.write(f, value)
		},
	}
}

// write runs on the adapter's callback goroutine.
func (b *BLE) write(f Field, value []byte) {
	b.mu.Lock()
	h, ctx := b.handler, b.ctx
	b.mu.Unlock()
	if h == nil {
		return
	}
	// The callback buffer is reused by the stack.
	_ = h.Write(ctx, f, append([]byte(nil), value...))
}

// Stop ends advertising. Writes arriving afterwards are dropped.
func (b *BLE) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = nil
	if b.adv == nil {
		return nil
	}
	err := b.adv.Stop()
	b.adv = nil
	if err != nil {
		return fmt.Errorf("provision: stop advertisement: %w", err)
	}
	return nil
}
