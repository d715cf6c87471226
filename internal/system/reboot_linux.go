//go:build linux

package system

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func hardReboot() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		if cmdErr := rebootCommand(); cmdErr != nil {
			return fmt.Errorf("system: reboot: %w", err)
		}
	}
	return nil
}
