package network

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"echokit/internal/protocol"
	"echokit/internal/settings"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func TestEndpoint(t *testing.T) {
	got, err := Endpoint("wss://echo.example/ws/", mustMAC(t, "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, err)
	assert.Equal(t, "wss://echo.example/ws/aabbccddeeff", got)
}

func TestDeviceIDZeroPadded(t *testing.T) {
	id, err := DeviceID(mustMAC(t, "00:0A:0b:01:00:F0"))
	require.NoError(t, err)
	assert.Equal(t, "000a0b0100f0", id)

	_, err = DeviceID(net.HardwareAddr{1, 2, 3})
	assert.Error(t, err)
}

func TestParseScan(t *testing.T) {
	out := "*\thome\t72\tWPA2\n" +
		" \t\t40\tWPA2\n" +
		" \tcafe\t55\t\n" +
		" \tlibrary\t31\t\r\n" +
		"garbage\n"
	assert.Equal(t, []AccessPoint{
		{SSID: "home", Signal: 72, Security: "WPA2", InUse: true},
		{SSID: "cafe", Signal: 55, Security: "OPEN"},
		{SSID: "library", Signal: 31, Security: "OPEN"},
	}, parseScan(out))
}

func TestNMCLIArgs(t *testing.T) {
	var calls [][]string
	n := &NMCLI{Interface: "wlan0", Run: func(_ context.Context, name string, args ...string) (string, error) {
		calls = append(calls, append([]string{name}, args...))
		return "", nil
	}}

	require.NoError(t, n.Connect(context.Background(), "home", "secret"))
	require.NoError(t, n.Connect(context.Background(), "open", ""))
	_, err := n.Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"nmcli", "dev", "wifi", "connect", "home", "password", "secret", "ifname", "wlan0"}, calls[0])
	assert.Equal(t, []string{"nmcli", "dev", "wifi", "connect", "open", "ifname", "wlan0"}, calls[1])
	assert.Contains(t, calls[2], "--rescan")
}

type fakeWiFi struct {
	connectErr error
	mac        net.HardwareAddr
	ssid, pass string
}

func (f *fakeWiFi) Scan(context.Context) ([]AccessPoint, error) { return nil, nil }

func (f *fakeWiFi) Connect(_ context.Context, ssid, pass string) error {
	f.ssid, f.pass = ssid, pass
	return f.connectErr
}

func (f *fakeWiFi) MAC() (net.HardwareAddr, error) { return f.mac, nil }

type nopSession struct{}

func (nopSession) SendAudio(context.Context, []byte) error             { return nil }
func (nopSession) SendCommand(context.Context, protocol.Command) error { return nil }
func (nopSession) Recv() (protocol.ServerEvent, error)                 { return protocol.ServerEvent{}, nil }
func (nopSession) Close() error                                        { return nil }

var full = settings.Settings{SSID: "home", Pass: "secret", ServerURL: "wss://echo.example/ws/"}

func TestManagerConnects(t *testing.T) {
	wifi := &fakeWiFi{mac: mustMAC(t, "AA:BB:CC:DD:EE:FF")}
	var dialed string
	var phases []Phase
	m := &Manager{
		WiFi: wifi,
		Dial: func(_ context.Context, url string) (protocol.Session, error) {
			dialed = url
			return nopSession{}, nil
		},
		OnPhase: func(p Phase) { phases = append(phases, p) },
	}

	sess, err := m.Connect(context.Background(), full)
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Equal(t, "home", wifi.ssid)
	assert.Equal(t, "secret", wifi.pass)
	assert.Equal(t, "wss://echo.example/ws/aabbccddeeff", dialed)
	assert.Equal(t, []Phase{PhaseWiFi, PhaseSession}, phases)
}

func TestManagerWiFiFailureSkipsSession(t *testing.T) {
	boom := errors.New("no carrier")
	m := &Manager{
		WiFi: &fakeWiFi{connectErr: boom},
		Dial: func(context.Context, string) (protocol.Session, error) {
			t.Fatal("dial after wifi failure")
			return nil, nil
		},
	}

	sess, err := m.Connect(context.Background(), full)
	assert.Nil(t, sess)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseWiFi, pe.Phase)
	assert.ErrorIs(t, err, boom)
}

func TestManagerSessionFailureCarriesEndpoint(t *testing.T) {
	m := &Manager{
		WiFi: &fakeWiFi{mac: mustMAC(t, "AA:BB:CC:DD:EE:FF")},
		Dial: func(context.Context, string) (protocol.Session, error) {
			return nil, errors.New("403")
		},
	}

	sess, err := m.Connect(context.Background(), full)
	assert.Nil(t, sess)
	var pe *PhaseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, PhaseSession, pe.Phase)
	assert.Equal(t, "wss://echo.example/ws/aabbccddeeff", pe.Endpoint)
}
