// Package ingest turns raw event lines into stored timeline events.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tinytelemetry/tideline/internal/model"
)

// ErrInvalidEvent marks a line that decoded but cannot be stored.
var ErrInvalidEvent = errors.New("ingest: invalid event")

// DecodeEvent parses one JSON event line. Missing medium and short
// descriptions are derived from the full description; the flags a case
// change maintains (tagged, hash hit) are cleared since only the store's
// own updates may set them.
func DecodeEvent(line string) (model.Event, error) {
	var ev model.Event
	dec := json.NewDecoder(strings.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return model.Event{}, fmt.Errorf("ingest: decode event: %w", err)
	}
	if err := validate(ev); err != nil {
		return model.Event{}, err
	}

	if ev.MedDescription == "" {
		ev.MedDescription = ev.FullDescription
	}
	if ev.ShortDescription == "" {
		ev.ShortDescription = shorten(ev.MedDescription)
	}
	ev.Tagged = false
	ev.HashHit = false
	return ev, nil
}

func validate(ev model.Event) error {
	switch {
	case ev.ID <= 0:
		return fmt.Errorf("%w: id %d", ErrInvalidEvent, ev.ID)
	case ev.Type <= 0 || ev.BaseType <= 0:
		return fmt.Errorf("%w: event %d has no type", ErrInvalidEvent, ev.ID)
	case ev.DataSourceID <= 0:
		return fmt.Errorf("%w: event %d has no data source", ErrInvalidEvent, ev.ID)
	case ev.ContentID <= 0:
		return fmt.Errorf("%w: event %d has no content", ErrInvalidEvent, ev.ID)
	case ev.FullDescription == "" && ev.MedDescription == "" && ev.ShortDescription == "":
		return fmt.Errorf("%w: event %d has no description", ErrInvalidEvent, ev.ID)
	}
	return nil
}

const shortDescriptionMax = 80

// shorten keeps the last path element of a description, which is what the
// timeline shows at low detail, capped at shortDescriptionMax runes.
func shorten(desc string) string {
	if i := strings.LastIndexAny(desc, `/\`); i >= 0 && i < len(desc)-1 {
		desc = desc[i+1:]
	}
	r := []rune(desc)
	if len(r) > shortDescriptionMax {
		return string(r[:shortDescriptionMax-1]) + "…"
	}
	return desc
}
