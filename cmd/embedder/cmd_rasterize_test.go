package main

import (
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pixel-embedder/internal/canvas"
	"pixel-embedder/internal/raster"
)

func writePNG(t *testing.T, w, h int, fill func(x, y int) color.NRGBA) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, fill(x, y))
		}
	}
	path := filepath.Join(t.TempDir(), "art.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRasterizeCmd_writes_pixels(t *testing.T) {
	t.Setenv("EMBEDDER_CONFIG", "")
	path := writePNG(t, 4, 2, func(x, y int) color.NRGBA {
		if x == 0 {
			return color.NRGBA{}
		}
		return color.NRGBA{R: 255, A: 255}
	})

	t.Run("prints writes", func(t *testing.T) {
		cmd := newRasterizeCmd()
		var out strings.Builder
		cmd.SetOut(&out)
		cmd.SetArgs([]string{path, "--x", "10", "--y", "20", "--max-dimension", "4"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("rasterize: %v", err)
		}

		var pixels []canvas.PixelWrite
		if err := json.Unmarshal([]byte(out.String()), &pixels); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if len(pixels) != 6 {
			t.Fatalf("expected 6 opaque writes, got %d", len(pixels))
		}
		if pixels[0].X != 11 || pixels[0].Y != 20 || pixels[0].Color != "#FF0000" {
			t.Errorf("unexpected first write %+v", pixels[0])
		}
	})

	t.Run("estimate", func(t *testing.T) {
		cmd := newRasterizeCmd()
		var out strings.Builder
		cmd.SetOut(&out)
		cmd.SetArgs([]string{path, "--max-dimension", "4", "--estimate", "--credits", "2"})
		if err := cmd.Execute(); err != nil {
			t.Fatalf("rasterize: %v", err)
		}

		var est raster.Estimation
		if err := json.Unmarshal([]byte(out.String()), &est); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if est.Pixels != 6 || !est.CreditsKnown || est.Shortage != 4 {
			t.Errorf("unexpected estimate %+v", est)
		}
		if est.PixelsPerMinute != 150 {
			t.Errorf("expected 150 writes per minute at the default delay, got %d", est.PixelsPerMinute)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		cmd := newRasterizeCmd()
		cmd.SetOut(&strings.Builder{})
		cmd.SetArgs([]string{filepath.Join(t.TempDir(), "nope.png")})
		if err := cmd.Execute(); err == nil {
			t.Fatal("expected an error for a missing image")
		}
	})
}
