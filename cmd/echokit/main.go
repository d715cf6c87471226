package main

import (
	"context"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/pflag"
	"periph.io/x/host/v3"

	"echokit/internal/audio"
	"echokit/internal/battery"
	"echokit/internal/button"
	"echokit/internal/config"
	"echokit/internal/device"
	appLog "echokit/internal/log"
	"echokit/internal/network"
	"echokit/internal/panel"
	"echokit/internal/platform"
	"echokit/internal/protocol"
	"echokit/internal/provision"
	"echokit/internal/settings"
	"echokit/internal/system"
	"echokit/internal/ui"
)

type flagConfig struct {
	configPath string
	logLevel   string
	headless   bool
}

func init() {
	// The render loop must own the main thread.
	runtime.LockOSThread()
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Fatal("failed to load config", err, "config_path", flags.configPath)
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	level, err := appLog.ParseLevel(conf.LogLevel)
	if err != nil {
		appLog.Warn("unknown log level, using info", "log_level", conf.LogLevel)
		level = appLog.LevelInfo
	}
	if err := appLog.Setup(conf.LogFormat, level); err != nil {
		appLog.Fatal("failed to set up logging", err)
	}
	defer appLog.Sync()

	appLog.Info("echokit starting",
		"config_path", flags.configPath,
		"headless", flags.headless,
		"audio", conf.Audio.Variant,
		"restart_mode", conf.RestartMode,
	)

	if _, err := host.Init(); err != nil {
		appLog.Fatal("periph host init failed", err)
	}

	var out platform.Panel = panel.Discard{Width: conf.Panel.Width, Height: conf.Panel.Height}
	if !flags.headless {
		drv, err := panel.Open(conf.Panel)
		if err != nil {
			appLog.Fatal("panel open failed", err)
		}
		defer drv.Close()
		if err := drv.Init(); err != nil {
			appLog.Fatal("panel init failed", err)
		}
		defer func() { _ = drv.Sleep() }()
		out = drv
	}

	win := ui.NewWindow(conf.Panel.Width, conf.Panel.Height)
	plat, err := platform.New(out, win, platform.Options{IdleTick: conf.Render.IdleTick})
	if err != nil {
		appLog.Fatal("platform init failed", err)
	}
	status, err := ui.Register(plat)
	if err != nil {
		appLog.Fatal("ui registration failed", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := settings.OpenSQLite(ctx, conf.StorePath)
	if err != nil {
		appLog.Fatal("settings store open failed", err, "store_path", conf.StorePath)
	}
	defer store.Close()

	pin, err := button.Open(conf.Button.Pin)
	if err != nil {
		if !flags.headless {
			appLog.Fatal("button init failed", err)
		}
		appLog.Warn("button unavailable, running without it", "pin", conf.Button.Pin, "err", err.Error())
		pin = button.Released(conf.Button.Pin)
	}

	wifi := network.NewNMCLI(conf.WiFi.Interface)
	mgr := &network.Manager{
		WiFi:        wifi,
		WiFiTimeout: conf.Session.WiFiTimeout,
		Dial: func(ctx context.Context, url string) (protocol.Session, error) {
			sess, err := protocol.Dial(ctx, url, protocol.DialOptions{HandshakeTimeout: conf.Session.HandshakeTimeout})
			if err != nil {
				return nil, err
			}
			return sess, nil
		},
	}

	var pipeline audio.Pipeline
	if !flags.headless {
		pipeline, err = audio.New(conf.Audio)
		if err != nil {
			appLog.Error("audio unavailable", err)
		}
	}

	var gauge battery.Reader
	if conf.Battery.Enabled {
		gauge = battery.NewI2CReader(conf.Battery.Bus, conf.Battery.Addr)
	}
	hb := &device.Heartbeat{Spec: conf.Heartbeat, Battery: gauge}

	transports := provision.Multi{provision.NewBLE(conf.Bluetooth.Name)}
	if conf.Provision.HTTPListen != "" {
		transports = append(transports, &provision.HTTP{
			Listen:  conf.Provision.HTTPListen,
			Auth:    conf.Provision.BasicAuth,
			Battery: gauge,
		})
	}

	ctrl := &device.Controller{
		Config:    conf,
		Store:     store,
		Button:    pin,
		Display:   status,
		Provision: transports,
		Network:   mgr,
		WiFi:      wifi,
		Audio:     pipeline,
		Restarter: system.NewRebooter(conf.RestartMode),
		Heartbeat: hb,
	}
	mgr.OnPhase = ctrl.ShowPhase

	proxy := plat.Proxy()
	go func() {
		if err := ctrl.Run(ctx); err != nil {
			appLog.Info("controller stopped", "err", err.Error())
		}
		_ = proxy.QuitEventLoop()
	}()

	if err := plat.Run(); err != nil {
		appLog.Error("event loop failed", err)
	}
	appLog.Info("echokit exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	pflag.StringVarP(&cfg.configPath, "config", "c", config.DefaultPath, "Path to config file")
	pflag.StringVar(&cfg.logLevel, "log-level", "", "Log level (overrides config if set)")
	pflag.BoolVar(&cfg.headless, "headless", false, "Run without panel, audio or button hardware; frames are discarded")

	pflag.Parse()

	return cfg
}
