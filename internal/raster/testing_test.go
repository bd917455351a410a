package raster

import "time"

func metricGrid(w, h int, size float64) Grid {
	return Grid{
		Width:        w,
		Height:       h,
		GeoTransform: [6]float64{500000, size, 0, 2100000, 0, -size},
		CRS:          "EPSG:32644",
		Units:        Metres,
	}
}

func constBand(name string, n int, v float64) Band {
	b := NewBand(name, n)
	for i := range b.Values {
		b.Set(i, v)
	}
	return b
}

func mustRaster(g Grid, day int, bands ...Band) *Raster {
	r, err := New(g, time.Date(2023, 1, day, 0, 0, 0, 0, time.UTC), bands...)
	if err != nil {
		panic(err)
	}
	return r
}

func timeZero() time.Time {
	return time.Time{}
}

func dayOf(d int) time.Time {
	return time.Date(2023, 1, d, 0, 0, 0, 0, time.UTC)
}

// degreeGrid is a lon/lat grid near 19.5N with pixels of roughly 30 metres.
func degreeGrid(w, h int) Grid {
	return Grid{
		Width:        w,
		Height:       h,
		GeoTransform: [6]float64{78.5, 0.00027, 0, 19.5, 0, -0.00027},
		CRS:          "EPSG:4326",
		Units:        Degrees,
	}
}
