package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"

	"echokit/internal/app"
	"echokit/internal/audio"
	"echokit/internal/button"
	"echokit/internal/config"
	appLog "echokit/internal/log"
	"echokit/internal/network"
	"echokit/internal/protocol"
	"echokit/internal/provision"
	"echokit/internal/settings"
	"echokit/internal/system"
)

// Screen texts.
const (
	textStarting       = "Device starting... %d"
	textSetupHint      = "You can hold K0 goto setup page"
	textProvision      = "Please setup device by bt"
	textProvisionHint  = "Goto %s to set up the device.\nPress K0 to continue"
	textTestingGIF     = "Testing background GIF..."
	textGIFOK          = "Background GIF set OK"
	textConnectWiFi    = "Connecting to wifi..."
	textConnectServer  = "Connecting to server..."
	textWiFiFailed     = "Failed to connect to wifi"
	textPressToRestart = "Press K0 to restart"
	textServerFailed   = "Failed to connect to server"
	textCheckServerURL = "Please check your server URL: %s"
)

const splashSteps = 3

// Display is the screen as the controller sees it.
type Display interface {
	ShowStatus(state, text string) error
	ShowQR(url string) error
	SetBackground(data []byte) error
}

// Restarter performs the restart every boot ends in. Production restarts
// never return; test doubles do.
type Restarter interface {
	Restart(reason string)
}

// Connector establishes the server session (network.Manager).
type Connector interface {
	Connect(ctx context.Context, s settings.Settings) (protocol.Session, error)
}

// Controller owns the settings for the life of the process and runs the
// boot sequence.
type Controller struct {
	Config    *config.Config
	Store     settings.Store
	Button    gpio.PinIn
	Display   Display
	Provision provision.Transport
	Network   Connector
	// WiFi is only used for the boot scan; nil skips it.
	WiFi      network.WiFi
	Audio     audio.Pipeline
	Restarter Restarter
	Heartbeat *Heartbeat

	// OnTransition is called after every state change.
	OnTransition func(from, to State)

	state atomic.Int32
}

// State is the current lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

func (c *Controller) enter(s State) {
	from := State(c.state.Swap(int32(s)))
	appLog.Info("device state", "from", from.String(), "to", s.String())
	system.LogMemStats(s.String())
	if c.OnTransition != nil {
		c.OnTransition(from, s)
	}
}

// restart is the single exit of every boot.
func (c *Controller) restart(reason string) {
	c.enter(Restarting)
	c.Restarter.Restart(reason)
}

// Run executes one boot. It returns after the restart was requested, or
// with the context error if ctx ends first.
func (c *Controller) Run(ctx context.Context) error {
	c.state.Store(int32(ColdBoot))
	appLog.Info("device state", "to", ColdBoot.String())
	system.LogMemStats(ColdBoot.String())

	if c.Heartbeat != nil {
		if err := c.Heartbeat.Start(); err != nil {
			appLog.Error("heartbeat disabled", err)
		} else {
			defer c.Heartbeat.Stop()
		}
	}

	s := settings.Load(ctx, c.Store)
	appLog.Info("settings loaded",
		"ssid", s.SSID,
		"server_url", s.ServerURL,
		"background_bytes", len(s.Background.Data),
	)

	if err := c.splash(ctx, s); err != nil {
		return err
	}
	if c.WiFi != nil && c.Config.WiFi.ScanOnBoot {
		network.ScanLog(ctx, c.WiFi)
	}

	held := button.Held(c.Button)
	mode := DecideMode(s, held)
	appLog.Info("boot mode", "mode", mode.String(), "settings_valid", s.Valid(), "button_held", held)

	if mode == ModeProvisioning {
		return c.provisioning(ctx, s)
	}
	return c.connectAndOperate(ctx, s)
}

// splash shows the stored background, or a countdown that gives the user
// time to hold the button.
func (c *Controller) splash(ctx context.Context, s settings.Settings) error {
	if len(s.Background.Data) > 0 {
		if err := c.Display.SetBackground(s.Background.Data); err != nil {
			appLog.Warn("stored background unusable", "err", err.Error())
		} else {
			return nil
		}
	}
	for i := splashSteps; i > 0; i-- {
		c.show(fmt.Sprintf(textStarting, i), textSetupHint)
		if err := sleepCtx(ctx, c.Config.Render.SplashStep); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) provisioning(ctx context.Context, s settings.Settings) error {
	c.enter(Provisioning)

	sh := settings.Lend(s, c.Store)
	if c.Provision != nil {
		if err := c.Provision.Start(ctx, sh); err != nil {
			appLog.Error("provisioning transport failed to start", err)
		}
	}

	url := c.Config.SetupURL
	c.show(textProvision, fmt.Sprintf(textProvisionHint, url))
	if err := c.Display.ShowQR(url); err != nil {
		appLog.Warn("setup QR code failed", "err", err.Error())
	}

	err := c.waitPress(ctx)
	if c.Provision != nil {
		if stopErr := c.Provision.Stop(); stopErr != nil {
			appLog.Warn("provisioning transport stop failed", "err", stopErr.Error())
		}
	}
	s = sh.Return()
	if err != nil {
		return err
	}

	if s.Background.Updated {
		c.show(textProvision, textTestingGIF)
		if err := c.Display.SetBackground(s.Background.Data); err != nil {
			appLog.Warn("received background unusable", "err", err.Error())
		}
		c.show(textProvision, textGIFOK)
		if err := settings.SaveBackground(ctx, c.Store, &s); err != nil {
			appLog.Error("failed to save background", err)
		} else {
			appLog.Info("background saved", "bytes", len(s.Background.Data))
		}
	}

	c.restart("provisioning finished")
	return nil
}

func (c *Controller) connectAndOperate(ctx context.Context, s settings.Settings) error {
	c.enter(Connecting)
	c.show(textConnectWiFi, "")

	sess, err := c.Network.Connect(ctx, s)
	if err != nil {
		return c.connectFailed(ctx, s, err)
	}
	return c.operate(ctx, sess)
}

// ShowPhase updates the screen as the network manager moves between
// phases. It is wired to network.Manager.OnPhase.
func (c *Controller) ShowPhase(p network.Phase) {
	switch p {
	case network.PhaseWiFi:
		c.show(textConnectWiFi, "")
	case network.PhaseSession:
		c.show(textConnectServer, "")
	}
}

func (c *Controller) connectFailed(ctx context.Context, s settings.Settings, err error) error {
	appLog.Error("connect failed", err)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var pe *network.PhaseError
	switch {
	case errors.As(err, &pe) && pe.Phase == network.PhaseWiFi:
		c.show(textWiFiFailed, textPressToRestart)
	default:
		endpoint := s.ServerURL
		if pe != nil && pe.Endpoint != "" {
			endpoint = pe.Endpoint
		}
		c.show(textServerFailed, fmt.Sprintf(textCheckServerURL, endpoint))
	}

	if err := c.waitPress(ctx); err != nil {
		return err
	}
	c.restart("connect failed")
	return nil
}

func (c *Controller) operate(ctx context.Context, sess protocol.Session) error {
	c.enter(Operating)

	bus := app.NewBus(app.DefaultBusCapacity)
	queue := c.Config.Audio.Queue
	if queue <= 0 {
		queue = 32
	}
	playback := make(chan []byte, queue)

	// The button and audio tasks end on their own once the bus is closed;
	// cancelling only unblocks their waits before the restart.
	tctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cl := &button.Classifier{
			Pin:       c.Button,
			LongPress: c.Config.Button.LongPress,
			Poll:      c.Config.Button.Poll,
		}
		if err := cl.Run(tctx, bus); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Warn("button task ended", "err", err.Error())
		}
	}()
	if c.Audio != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Audio.Run(tctx, bus, playback); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Warn("audio task ended", "err", err.Error())
			}
		}()
	}

	w := &app.Worker{Session: sess, Bus: bus, Playback: playback, Display: c.Display}
	err := w.Run(ctx)
	if err != nil {
		appLog.Error("work task ended", err)
	} else {
		appLog.Info("work task ended")
	}

	cancel()
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.restart("work task ended")
	return nil
}

func (c *Controller) waitPress(ctx context.Context) error {
	return button.WaitPress(ctx, c.Button, c.Config.Button.Poll)
}

func (c *Controller) show(state, text string) {
	if err := c.Display.ShowStatus(state, text); err != nil {
		appLog.Warn("display update failed", "state", state, "err", err.Error())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
