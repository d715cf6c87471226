package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
)

// AccessPoint is one network seen by a scan.
type AccessPoint struct {
	SSID     string
	Signal   int
	Security string
	InUse    bool
}

// WiFi associates the device with an access point.
type WiFi interface {
	Scan(ctx context.Context) ([]AccessPoint, error)
	Connect(ctx context.Context, ssid, pass string) error
	// MAC is the hardware address used as device identity.
	MAC() (net.HardwareAddr, error)
}

// Runner runs an external command and returns its trimmed combined output.
type Runner func(ctx context.Context, name string, args ...string) (string, error)

// NMCLI drives NetworkManager through the nmcli command line tool.
type NMCLI struct {
	Interface string
	Run       Runner
}

func NewNMCLI(iface string) *NMCLI {
	return &NMCLI{Interface: iface, Run: runCmd}
}

func runCmd(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	s := strings.TrimSpace(string(out))
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return s, fmt.Errorf("command timed out: %s %v", name, args)
	}
	if err != nil {
		if s != "" {
			return s, fmt.Errorf("command failed: %s %v: %w: %s", name, args[:min(len(args), 3)], err, s)
		}
		return s, fmt.Errorf("command failed: %s %v: %w", name, args[:min(len(args), 3)], err)
	}
	return s, nil
}

// Scan lists visible networks, rescanning first.
func (n *NMCLI) Scan(ctx context.Context) ([]AccessPoint, error) {
	args := []string{
		"-t",
		"--separator", "\t",
		"-f", "IN-USE,SSID,SIGNAL,SECURITY",
		"dev", "wifi", "list",
		"--rescan", "yes",
	}
	if n.Interface != "" {
		args = append(args, "ifname", n.Interface)
	}
	out, err := n.Run(ctx, "nmcli", args...)
	if err != nil {
		return nil, fmt.Errorf("network: wifi scan: %w", err)
	}
	return parseScan(out), nil
}

func parseScan(out string) []AccessPoint {
	lines := strings.Split(out, "\n")
	aps := make([]AccessPoint, 0, len(lines))
	for _, line := range lines {
		// Only the line ending goes; an open network ends in an empty
		// SECURITY field.
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		// IN-USE \t SSID \t SIGNAL \t SECURITY
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}

		ssid := strings.TrimSpace(parts[1])
		// Hidden networks.
		if ssid == "" {
			continue
		}
		signal, _ := strconv.Atoi(strings.TrimSpace(parts[2]))
		sec := strings.TrimSpace(parts[3])
		if sec == "" {
			sec = "OPEN"
		}

		aps = append(aps, AccessPoint{
			SSID:     ssid,
			Signal:   signal,
			Security: sec,
			InUse:    strings.TrimSpace(parts[0]) == "*",
		})
	}
	return aps
}

// Connect associates with ssid. The passphrase never appears in errors.
func (n *NMCLI) Connect(ctx context.Context, ssid, pass string) error {
	args := []string{"dev", "wifi", "connect", ssid}
	if strings.TrimSpace(pass) != "" {
		args = append(args, "password", pass)
	}
	if n.Interface != "" {
		args = append(args, "ifname", n.Interface)
	}
	if _, err := n.Run(ctx, "nmcli", args...); err != nil {
		return fmt.Errorf("network: wifi connect %q: %w", ssid, err)
	}
	return nil
}

func (n *NMCLI) MAC() (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(n.Interface)
	if err != nil {
		return nil, fmt.Errorf("network: interface %s: %w", n.Interface, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("network: interface %s has no hardware address", n.Interface)
	}
	return iface.HardwareAddr, nil
}
