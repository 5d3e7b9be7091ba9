package batch

import (
	"errors"
	"fmt"

	"github.com/wudi/qrsheet/codes"
	"github.com/wudi/qrsheet/symbol"
)

// ErrBusy is returned when a run or a logo change is attempted while
// another run is active.
var ErrBusy = errors.New("batch: a run is already in progress")

// ItemError wraps the failure of one item with its position.
type ItemError struct {
	Item codes.Item
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d (%s): %v", e.Item.Index, e.Item.Text, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Error kinds reported by Kind.
const (
	KindInvalidRange     = "invalid_range"
	KindUndecodableInput = "undecodable_input"
	KindLogoDecode       = "logo_decode"
	KindAssetRender      = "asset_render"
	KindBusy             = "busy"
	KindInternal         = "internal"
)

// Kind names the class of err for logs, metric labels and HTTP mapping.
// It returns "" for nil.
func Kind(err error) string {
	var (
		rangeErr  *codes.InvalidRangeError
		undecErr  *symbol.UndecodableInputError
		logoErr   *symbol.LogoDecodeError
		renderErr *symbol.AssetRenderError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.As(err, &rangeErr):
		return KindInvalidRange
	case errors.As(err, &undecErr):
		return KindUndecodableInput
	case errors.As(err, &logoErr):
		return KindLogoDecode
	case errors.As(err, &renderErr):
		return KindAssetRender
	default:
		return KindInternal
	}
}
