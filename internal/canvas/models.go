// Package canvas holds the data model shared by every stage of the
// placement pipeline: single pixel writes, their colors, and the fixed-size
// regions used to batch existence checks.
package canvas

import (
	"fmt"
	"strings"
)

// Canvas bounds observed on the remote service. Coordinates outside them are
// passed through unvalidated; the bounds only clamp region corners.
const (
	MaxX = 2999
	MaxY = 1999
)

// DefaultRegionSize is the edge length of the square tiles used to batch
// existence checks.
const DefaultRegionSize = 50

// Color is an uppercase "#RRGGBB" hex color.
type Color string

// RGB builds a Color from 8-bit channels.
func RGB(r, g, b uint8) Color {
	return Color(fmt.Sprintf("#%02X%02X%02X", r, g, b))
}

// ParseColor normalizes s ("#rrggbb" or "rrggbb", any case) to a Color.
func ParseColor(s string) (Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return "", fmt.Errorf("color %q: want 6 hex digits", s)
	}
	for _, c := range h {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return "", fmt.Errorf("color %q: invalid hex digit %q", s, c)
		}
	}
	return Color("#" + strings.ToUpper(h)), nil
}

// PixelWrite is one target cell and its desired color.
// This also matches the JSON shape exchanged with the canvas service.
type PixelWrite struct {
	X     int   `json:"x"`
	Y     int   `json:"y"`
	Color Color `json:"color"`
}

// Key identifies the write by position and color.
func (p PixelWrite) Key() string {
	return fmt.Sprintf("%d,%d,%s", p.X, p.Y, p.Color)
}

// Region is an axis-aligned tile of the canvas together with the writes that
// fall inside it. Corners are inclusive.
type Region struct {
	X1     int
	Y1     int
	X2     int
	Y2     int
	Pixels []PixelWrite
}
