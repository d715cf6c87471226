//go:build !linux

package system

func hardReboot() error {
	return rebootCommand()
}
