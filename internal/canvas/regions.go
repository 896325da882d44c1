package canvas

// GroupRegions partitions pixels into size×size tiles. Tiles are returned in
// the order their first pixel was encountered and keep their pixels in input
// order. A non-positive size uses DefaultRegionSize.
func GroupRegions(pixels []PixelWrite, size int) []Region {
	if size <= 0 {
		size = DefaultRegionSize
	}
	if len(pixels) == 0 {
		return nil
	}

	type tile struct{ x, y int }
	index := make(map[tile]int)
	var regions []Region

	for _, p := range pixels {
		t := tile{x: floorTo(p.X, size), y: floorTo(p.Y, size)}
		i, ok := index[t]
		if !ok {
			i = len(regions)
			index[t] = i
			regions = append(regions, Region{
				X1: t.x,
				Y1: t.y,
				X2: min(t.x+size-1, MaxX),
				Y2: min(t.y+size-1, MaxY),
			})
		}
		regions[i].Pixels = append(regions[i].Pixels, p)
	}
	return regions
}

// floorTo rounds v down to a multiple of size, also for negative v.
func floorTo(v, size int) int {
	q := v / size
	if v%size != 0 && v < 0 {
		q--
	}
	return q * size
}
