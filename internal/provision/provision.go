// Package provision receives credentials and the background image over a
// short-range transport while the device is in provisioning mode.
package provision

import (
	"context"
	"fmt"

	appLog "echokit/internal/log"
	"echokit/internal/settings"
)

// Transport delivers provisioning writes into a settings loan until Stop.
type Transport interface {
	Start(ctx context.Context, sh *settings.Shared) error
	Stop() error
}

// Field identifies one writable provisioning value.
type Field int

const (
	FieldSSID Field = iota
	FieldPass
	FieldServerURL
	// FieldBackgroundBegin starts a new background transfer.
	FieldBackgroundBegin
	// FieldBackgroundChunk appends to the transfer in progress.
	FieldBackgroundChunk
	// FieldBackgroundEnd marks the transfer as complete.
	FieldBackgroundEnd
)

func (f Field) String() string {
	switch f {
	case FieldSSID:
		return "ssid"
	case FieldPass:
		return "pass"
	case FieldServerURL:
		return "server_url"
	case FieldBackgroundBegin:
		return "background_begin"
	case FieldBackgroundChunk:
		return "background_chunk"
	case FieldBackgroundEnd:
		return "background_end"
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Handler applies transport writes to the loan. It does not depend on any
// particular radio, so transports only have to map their writes to fields.
type Handler struct {
	Shared *settings.Shared
}

// Write applies one write. Errors are logged and returned.
func (h Handler) Write(ctx context.Context, f Field, value []byte) error {
	var err error
	switch f {
	case FieldSSID:
		err = h.Shared.SetSSID(ctx, string(value))
	case FieldPass:
		err = h.Shared.SetPass(ctx, string(value))
	case FieldServerURL:
		err = h.Shared.SetServerURL(ctx, string(value))
	case FieldBackgroundBegin:
		err = h.Shared.BeginBackground()
	case FieldBackgroundChunk:
		err = h.Shared.AppendBackground(value)
	case FieldBackgroundEnd:
		err = h.Shared.FinishBackground()
	default:
		err = fmt.Errorf("provision: unknown field %d", int(f))
	}
	if err != nil {
		appLog.Error("provisioning write failed", err, "field", f.String(), "len", len(value))
		return err
	}
	if f != FieldBackgroundChunk {
		appLog.Info("provisioning write", "field", f.String())
	}
	return nil
}
