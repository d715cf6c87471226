// Package device sequences the device from power-on to restart.
//
// A boot runs ColdBoot, then either Provisioning or Connecting followed by
// Operating, and always ends in Restarting. The mode chosen at ColdBoot
// never changes inside a process; a restart is the only way to switch.
package device

import (
	"fmt"

	"echokit/internal/settings"
)

type State int32

const (
	ColdBoot State = iota
	Provisioning
	Connecting
	Operating
	Restarting
)

func (s State) String() string {
	switch s {
	case ColdBoot:
		return "cold_boot"
	case Provisioning:
		return "provisioning"
	case Connecting:
		return "connecting"
	case Operating:
		return "operating"
	case Restarting:
		return "restarting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Mode int

const (
	ModeOperating Mode = iota
	ModeProvisioning
)

func (m Mode) String() string {
	if m == ModeProvisioning {
		return "provisioning"
	}
	return "operating"
}

// DecideMode picks the boot mode: provisioning when any credential is
// missing or the button is held at boot.
func DecideMode(s settings.Settings, buttonHeld bool) Mode {
	if !s.Valid() || buttonHeld {
		return ModeProvisioning
	}
	return ModeOperating
}
