// Package bridge is the boundary between the UI core and the backend's
// event stream and command RPCs. The core only depends on the Bridge
// interface; transports (in-process, SSE) live behind it.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names pushed by the backend.
const (
	EventConfigChanged          = "ConfigChanged"
	EventLedColorsChanged       = "LedColorsChanged"
	EventLedSortedColorsChanged = "LedSortedColorsChanged"
	EventLedStripColorsChanged  = "LedStripColorsChanged"

	// EventConnection is synthesized by transports when the channel
	// connects or drops. Payload: {"connected": bool}.
	EventConnection = "Connection"
)

// Command names accepted by the backend.
const (
	CmdMoveStripPart        = "move_strip_part"
	CmdReverseLedStripPart  = "reverse_led_strip_part"
	CmdPatchLedStripLen     = "patch_led_strip_len"
	CmdPatchLedStripType    = "patch_led_strip_type"
	CmdReadLedStripConfigs  = "read_led_strip_configs"
	CmdWriteLedStripConfigs = "write_led_strip_configs"
	CmdReadLedColors        = "read_led_colors"
	CmdSetDataSendMode      = "set_data_send_mode"
)

// Handler receives the raw JSON payload of a subscribed event.
type Handler func(payload []byte)

// Bridge exposes the backend's push channel and command RPCs. Subscribe
// returns an unsubscribe function that must release the registration
// synchronously; no handler fires after it returns.
type Bridge interface {
	Subscribe(event string, h Handler) (func(), error)
	Invoke(ctx context.Context, command string, args any) (json.RawMessage, error)
}

// ConnectionPayload is the body of EventConnection events.
type ConnectionPayload struct {
	Connected bool `json:"connected"`
}

// ErrClosed is returned once a bridge has been shut down.
var ErrClosed = errors.New("bridge closed")

// ErrDisconnected is returned when an invoke cannot reach the backend.
var ErrDisconnected = errors.New("bridge disconnected")

// StatusError is a command rejection carrying the transport status code.
type StatusError struct {
	Code    int
	Command string
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("command %s failed with status %d: %s", e.Command, e.Code, e.Body)
}

// Transient reports whether err is worth retrying at the transport
// level: server-side failures and dropped connections qualify, command
// rejections do not.
func Transient(err error) bool {
	if errors.Is(err, ErrDisconnected) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500
	}
	return false
}
