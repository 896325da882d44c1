package raster

import "time"

// Estimation summarizes what placing a pixel list will cost.
type Estimation struct {
	Pixels          int  `json:"pixels"`
	PixelsPerMinute int  `json:"pixelsPerMinute"`
	Minutes         int  `json:"minutes"`
	CreditsKnown    bool `json:"creditsKnown"`
	Credits         int  `json:"credits,omitempty"`
	// Shortage is how many more credits the run needs; 0 when sufficient or unknown.
	Shortage int `json:"shortage"`
}

// Estimate computes run length at one write per delay and compares the pixel
// count with the available credits when they are known.
func Estimate(pixels int, delay time.Duration, credits *int) Estimation {
	e := Estimation{Pixels: pixels}
	if delay > 0 {
		e.PixelsPerMinute = int(time.Minute / delay)
	}
	if e.PixelsPerMinute > 0 {
		e.Minutes = (pixels + e.PixelsPerMinute - 1) / e.PixelsPerMinute
	}
	if credits != nil {
		e.CreditsKnown = true
		e.Credits = *credits
		if *credits < pixels {
			e.Shortage = pixels - *credits
		}
	}
	return e
}
