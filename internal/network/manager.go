// Package network brings the device online in two phases: WiFi
// association, then the server session at an endpoint derived from the
// device MAC address.
package network

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"time"

	appLog "echokit/internal/log"
	"echokit/internal/protocol"
	"echokit/internal/settings"
)

// DeviceID is the 12-digit lowercase hex form of a MAC address.
func DeviceID(mac net.HardwareAddr) (string, error) {
	if len(mac) != 6 {
		return "", fmt.Errorf("network: want a 6-byte MAC, got %d bytes", len(mac))
	}
	return hex.EncodeToString(mac), nil
}

// Endpoint appends the device identity to the server base URL with no
// separator.
func Endpoint(serverURL string, mac net.HardwareAddr) (string, error) {
	id, err := DeviceID(mac)
	if err != nil {
		return "", err
	}
	return serverURL + id, nil
}

type Phase string

const (
	PhaseWiFi    Phase = "wifi"
	PhaseSession Phase = "session"
)

// PhaseError reports which phase of Connect failed. Endpoint is set for
// session failures once it is known.
type PhaseError struct {
	Phase    Phase
	Endpoint string
	Err      error
}

func (e *PhaseError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("network: %s phase (%s): %v", e.Phase, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("network: %s phase: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// DialFunc establishes a server session.
type DialFunc func(ctx context.Context, url string) (protocol.Session, error)

// Manager sequences the two phases. It keeps no state between calls: a
// call either returns a usable session or a *PhaseError.
type Manager struct {
	WiFi WiFi
	Dial DialFunc

	// WiFiTimeout bounds association. Zero means no extra bound.
	WiFiTimeout time.Duration

	// OnPhase is called as each phase starts.
	OnPhase func(Phase)
}

// Connect associates with the configured network and opens the session.
func (m *Manager) Connect(ctx context.Context, s settings.Settings) (protocol.Session, error) {
	m.enter(PhaseWiFi)
	wctx := ctx
	if m.WiFiTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, m.WiFiTimeout)
		defer cancel()
	}
	start := time.Now()
	if err := m.WiFi.Connect(wctx, s.SSID, s.Pass); err != nil {
		return nil, &PhaseError{Phase: PhaseWiFi, Err: err}
	}
	appLog.Info("wifi connected", "ssid", s.SSID, "took", time.Since(start).String())

	m.enter(PhaseSession)
	mac, err := m.WiFi.MAC()
	if err != nil {
		return nil, &PhaseError{Phase: PhaseSession, Err: err}
	}
	url, err := Endpoint(s.ServerURL, mac)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseSession, Err: err}
	}

	sess, err := m.Dial(ctx, url)
	if err != nil {
		return nil, &PhaseError{Phase: PhaseSession, Endpoint: url, Err: err}
	}
	appLog.Info("server session established", "endpoint", url)
	return sess, nil
}

func (m *Manager) enter(p Phase) {
	appLog.Info("network phase", "phase", string(p))
	if m.OnPhase != nil {
		m.OnPhase(p)
	}
}

// ScanLog logs every visible network. Failures are logged and ignored.
func ScanLog(ctx context.Context, w WiFi) {
	aps, err := w.Scan(ctx)
	if err != nil {
		appLog.Warn("wifi scan failed", "err", err.Error())
		return
	}
	for _, ap := range aps {
		appLog.Info("wifi seen", "ssid", ap.SSID, "signal", ap.Signal, "security", ap.Security, "in_use", ap.InUse)
	}
	appLog.Info("wifi scan done", "count", len(aps))
}
