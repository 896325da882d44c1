package canvas

import "testing"

func TestGroupRegions_tile_origins(t *testing.T) {
	pixels := []PixelWrite{
		{X: 10, Y: 10, Color: "#000000"},
		{X: 60, Y: 10, Color: "#000000"},
		{X: 49, Y: 49, Color: "#FFFFFF"},
		{X: 2990, Y: 1990, Color: "#FF0000"},
		{X: -1, Y: 0, Color: "#00FF00"},
	}
	regions := GroupRegions(pixels, 50)
	if len(regions) != 4 {
		t.Fatalf("expected 4 regions, got %d", len(regions))
	}

	first := regions[0]
	if first.X1 != 0 || first.Y1 != 0 || first.X2 != 49 || first.Y2 != 49 {
		t.Errorf("first region bounds: %+v", first)
	}
	if len(first.Pixels) != 2 || first.Pixels[1].X != 49 {
		t.Errorf("first region should hold (10,10) then (49,49), got %v", first.Pixels)
	}

	if regions[1].X1 != 50 {
		t.Errorf("second region should start at x=50, got %d", regions[1].X1)
	}

	edge := regions[2]
	if edge.X1 != 2950 || edge.Y1 != 1950 || edge.X2 != MaxX || edge.Y2 != MaxY {
		t.Errorf("edge region should clamp to canvas bounds: %+v", edge)
	}

	neg := regions[3]
	if neg.X1 != -50 || neg.X2 != -1 {
		t.Errorf("negative coordinate should floor to -50: %+v", neg)
	}
}

func TestGroupRegions_covers_every_pixel_once(t *testing.T) {
	var pixels []PixelWrite
	for y := 0; y < 120; y += 7 {
		for x := 0; x < 130; x += 3 {
			pixels = append(pixels, PixelWrite{X: x, Y: y, Color: "#123456"})
		}
	}
	total := 0
	for _, r := range GroupRegions(pixels, 0) {
		for _, p := range r.Pixels {
			if p.X < r.X1 || p.X > r.X2 || p.Y < r.Y1 || p.Y > r.Y2 {
				t.Errorf("pixel %v outside region %d,%d-%d,%d", p, r.X1, r.Y1, r.X2, r.Y2)
			}
		}
		total += len(r.Pixels)
	}
	if total != len(pixels) {
		t.Errorf("expected %d pixels across regions, got %d", len(pixels), total)
	}
}

func TestGroupRegions_empty(t *testing.T) {
	if got := GroupRegions(nil, 50); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestParseColor_normalizes(t *testing.T) {
	tests := []struct {
		in      string
		want    Color
		wantErr bool
	}{
		{"#ff00aa", "#FF00AA", false},
		{"00ff00", "#00FF00", false},
		{" #ABCDEF ", "#ABCDEF", false},
		{"#fff", "", true},
		{"#GG0000", "", true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColor(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseColor(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRGB_uppercase_hex(t *testing.T) {
	if got := RGB(0x0a, 0xff, 0); got != "#0AFF00" {
		t.Errorf("RGB = %q", got)
	}
}
