package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the device looks for its config when no --config
// flag is given.
const DefaultPath = "/etc/echokit/config.yaml"

// WiFiConfig selects the wireless interface used for association.
type WiFiConfig struct {
	// Interface is the NetworkManager device name (e.g. "wlan0").
	Interface string `yaml:"interface"`
	// ScanOnBoot logs the visible networks once during boot.
	ScanOnBoot bool `yaml:"scan_on_boot"`
}

// PanelConfig describes the SPI display wiring and its fixed orientation.
type PanelConfig struct {
	// SPIPort is the periph SPI port name ("" selects the first one).
	SPIPort string `yaml:"spi_port"`
	// ClockMHz is the SPI clock.
	ClockMHz int `yaml:"clock_mhz"`
	// DC, Reset and Backlight are periph GPIO names (e.g. "GPIO25").
	DC        string `yaml:"dc"`
	Reset     string `yaml:"reset"`
	Backlight string `yaml:"backlight"`

	Width  int `yaml:"width"`
	Height int `yaml:"height"`

	MirrorX bool `yaml:"mirror_x"`
	MirrorY bool `yaml:"mirror_y"`
	SwapXY  bool `yaml:"swap_xy"`
	Invert  bool `yaml:"invert"`

	// OffsetX / OffsetY shift the drawing window inside the controller RAM.
	OffsetX int `yaml:"offset_x"`
	OffsetY int `yaml:"offset_y"`
}

// ButtonConfig describes the single K0 button.
type ButtonConfig struct {
	Pin string `yaml:"pin"`
	// LongPress is the press duration at which a press counts as long.
	LongPress time.Duration `yaml:"long_press"`
	// Poll bounds every edge wait so the button task notices shutdown.
	Poll time.Duration `yaml:"poll"`
}

// AudioConfig selects the audio wiring strategy.
type AudioConfig struct {
	// Variant is "box" (one duplex codec) or "boards" (separate mic and
	// speaker devices).
	Variant string `yaml:"variant"`
	// CapturePath and PlaybackPath are the PCM device nodes or FIFOs.
	CapturePath  string `yaml:"capture_path"`
	PlaybackPath string `yaml:"playback_path"`
	// FrameBytes is the size of one captured PCM chunk.
	FrameBytes int `yaml:"frame_bytes"`
	// Queue is the capacity of the playback channel.
	Queue int `yaml:"queue"`
}

type BluetoothConfig struct {
	Name string `yaml:"name"`
}

// BasicAuth holds credentials for HTTP Basic Auth.
type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ProvisionConfig enables the local HTTP setup endpoint next to Bluetooth.
type ProvisionConfig struct {
	// HTTPListen is the listen address; empty disables the HTTP transport.
	HTTPListen string `yaml:"http_listen"`
	// BasicAuth is optional. If nil or empty, auth is disabled.
	BasicAuth *BasicAuth `yaml:"basic_auth,omitempty"`
}

// BatteryConfig enables the I2C fuel gauge.
type BatteryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bus     string `yaml:"bus"`
	Addr    uint16 `yaml:"addr"`
}

type RenderConfig struct {
	// IdleTick bounds how long the render loop sleeps when nothing animates.
	IdleTick time.Duration `yaml:"idle_tick"`
	// SplashStep is the length of one boot countdown step.
	SplashStep time.Duration `yaml:"splash_step"`
}

type SessionConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WiFiTimeout      time.Duration `yaml:"wifi_timeout"`
}

// Config is the top-level device configuration.
type Config struct {
	// StorePath is the sqlite file holding the provisioned settings.
	StorePath string `yaml:"store_path"`
	// SetupURL is shown as text and QR code during provisioning.
	SetupURL string `yaml:"setup_url"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Heartbeat is a cron spec for the liveness log.
	Heartbeat string `yaml:"heartbeat"`

	// RestartMode is "reboot" (hardware restart) or "exit" (let the
	// supervisor restart the process).
	RestartMode string `yaml:"restart_mode"`

	WiFi      WiFiConfig      `yaml:"wifi"`
	Panel     PanelConfig     `yaml:"panel"`
	Button    ButtonConfig    `yaml:"button"`
	Audio     AudioConfig     `yaml:"audio"`
	Bluetooth BluetoothConfig `yaml:"bluetooth"`
	Provision ProvisionConfig `yaml:"provision"`
	Battery   BatteryConfig   `yaml:"battery"`
	Render    RenderConfig    `yaml:"render"`
	Session   SessionConfig   `yaml:"session"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		StorePath:   "/var/lib/echokit/settings.db",
		SetupURL:    "https://echokit.dev/setup/",
		LogLevel:    "info",
		LogFormat:   "json",
		Heartbeat:   "@every 30s",
		RestartMode: "reboot",
		WiFi: WiFiConfig{
			Interface:  "wlan0",
			ScanOnBoot: true,
		},
		Panel: PanelConfig{
			ClockMHz:  40,
			DC:        "GPIO25",
			Reset:     "GPIO27",
			Backlight: "GPIO18",
			Width:     240,
			Height:    240,
			MirrorX:   true,
			Invert:    true,
		},
		Button: ButtonConfig{
			Pin:       "GPIO17",
			LongPress: time.Second,
			Poll:      100 * time.Millisecond,
		},
		Audio: AudioConfig{
			Variant:      "box",
			CapturePath:  "/run/echokit/mic.pcm",
			PlaybackPath: "/run/echokit/spk.pcm",
			FrameBytes:   1024,
			Queue:        32,
		},
		Bluetooth: BluetoothConfig{Name: "EchoKit"},
		Battery: BatteryConfig{
			Bus:  "",
			Addr: 0x57,
		},
		Render: RenderConfig{
			IdleTick:   time.Second,
			SplashStep: time.Second,
		},
		Session: SessionConfig{
			HandshakeTimeout: 10 * time.Second,
			WiFiTimeout:      30 * time.Second,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.StorePath == "" {
		c.StorePath = d.StorePath
	}
	if c.SetupURL == "" {
		c.SetupURL = d.SetupURL
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		c.LogFormat = d.LogFormat
	}
	if c.Heartbeat == "" {
		c.Heartbeat = d.Heartbeat
	}
	switch c.RestartMode {
	case "reboot", "exit":
	default:
		// Unknown value; a hardware restart is the only safe recovery.
		c.RestartMode = d.RestartMode
	}

	if c.WiFi.Interface == "" {
		c.WiFi.Interface = d.WiFi.Interface
	}

	if c.Panel.ClockMHz <= 0 {
		c.Panel.ClockMHz = d.Panel.ClockMHz
	}
	if c.Panel.Width <= 0 || c.Panel.Height <= 0 {
		c.Panel.Width, c.Panel.Height = d.Panel.Width, d.Panel.Height
	}
	if c.Panel.DC == "" {
		c.Panel.DC = d.Panel.DC
	}
	if c.Panel.Reset == "" {
		c.Panel.Reset = d.Panel.Reset
	}

	if c.Button.Pin == "" {
		c.Button.Pin = d.Button.Pin
	}
	if c.Button.LongPress <= 0 {
		c.Button.LongPress = d.Button.LongPress
	}
	if c.Button.Poll <= 0 {
		c.Button.Poll = d.Button.Poll
	}

	switch c.Audio.Variant {
	case "box", "boards":
	default:
		c.Audio.Variant = d.Audio.Variant
	}
	if c.Audio.FrameBytes <= 0 {
		c.Audio.FrameBytes = d.Audio.FrameBytes
	}
	if c.Audio.Queue <= 0 {
		c.Audio.Queue = d.Audio.Queue
	}

	if c.Bluetooth.Name == "" {
		c.Bluetooth.Name = d.Bluetooth.Name
	}
	if c.Battery.Addr == 0 {
		c.Battery.Addr = d.Battery.Addr
	}

	if c.Render.IdleTick <= 0 {
		c.Render.IdleTick = d.Render.IdleTick
	}
	if c.Render.SplashStep <= 0 {
		c.Render.SplashStep = d.Render.SplashStep
	}
	if c.Session.HandshakeTimeout <= 0 {
		c.Session.HandshakeTimeout = d.Session.HandshakeTimeout
	}
	if c.Session.WiFiTimeout <= 0 {
		c.Session.WiFiTimeout = d.Session.WiFiTimeout
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file in the same directory, chmod 0600, rename).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".echokit-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
