package symbol

import (
	"fmt"

	"github.com/wudi/qrsheet/codes"
)

// UndecodableInputError means the payload cannot be encoded at the
// highest error-correction level, usually because it exceeds capacity.
type UndecodableInputError struct {
	Item codes.Item
	Err  error
}

func (e *UndecodableInputError) Error() string {
	return fmt.Sprintf("cannot encode %q (%d bytes): %v", e.Item.Text, len(e.Item.Text), e.Err)
}

func (e *UndecodableInputError) Unwrap() error { return e.Err }

// AssetRenderError reports a failure while composing a raster.
type AssetRenderError struct {
	Item   codes.Item
	Reason string
}

func (e *AssetRenderError) Error() string {
	return fmt.Sprintf("render %q: %s", e.Item.Text, e.Reason)
}

// LogoDecodeError reports logo bytes that are not a supported image.
type LogoDecodeError struct {
	Format string
	Reason string
	Err    error
}

func (e *LogoDecodeError) Error() string {
	msg := "logo: " + e.Reason
	if e.Format != "" {
		msg += " (" + e.Format + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LogoDecodeError) Unwrap() error { return e.Err }
