// Package system holds the process-level actions of the device: the
// restart that every unrecoverable path ends in, and heap reporting.
package system

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	appLog "echokit/internal/log"
)

const (
	ModeReboot = "reboot"
	ModeExit   = "exit"
)

// Rebooter restarts the device. In "reboot" mode the kernel is asked to
// restart the machine; in "exit" mode the process exits and its supervisor
// starts it again.
type Rebooter struct {
	Mode string

	reboot func() error
	exit   func(code int)
}

func NewRebooter(mode string) *Rebooter {
	return &Rebooter{Mode: mode, reboot: hardReboot, exit: os.Exit}
}

// Restart does not return unless every restart path failed.
func (r *Rebooter) Restart(reason string) {
	appLog.Warn("restarting device", "reason", reason, "mode", r.Mode)
	appLog.Sync()

	exit := r.exit
	if exit == nil {
		exit = os.Exit
	}
	if strings.EqualFold(r.Mode, ModeExit) {
		exit(1)
		return
	}

	reboot := r.reboot
	if reboot == nil {
		reboot = hardReboot
	}
	if err := reboot(); err != nil {
		appLog.Error("reboot failed, exiting instead", err)
		appLog.Sync()
	}
	exit(1)
}

// rebootCommand is the fallback when the syscall is unavailable.
func rebootCommand() error {
	_ = exec.Command("sync").Run()
	for _, args := range [][]string{{"reboot", "-f"}, {"busybox", "reboot", "-f"}} {
		p, err := exec.LookPath(args[0])
		if err != nil {
			continue
		}
		if err := exec.Command(p, args[1:]...).Run(); err == nil {
			// reboot -f returns before the kernel takes the machine down.
			time.Sleep(5 * time.Second)
			return nil
		}
	}
	return fmt.Errorf("system: no usable reboot command")
}

// LogMemStats logs the heap usage for a boot phase or heartbeat.
func LogMemStats(phase string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	appLog.Info("heap",
		"phase", phase,
		"heap_alloc_kb", m.HeapAlloc/1024,
		"heap_sys_kb", m.HeapSys/1024,
		"goroutines", runtime.NumGoroutine(),
	)
}
