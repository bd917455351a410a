package landsat

import (
	"testing"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGrid(w, h int) raster.Grid {
	return raster.Grid{
		Width:        w,
		Height:       h,
		GeoTransform: [6]float64{500000, 30, 0, 2100000, 0, -30},
		Units:        raster.Metres,
	}
}

func band(name string, values ...float64) raster.Band {
	b := raster.NewBand(name, len(values))
	for i, v := range values {
		b.Set(i, v)
	}
	return b
}

func TestMaskCloudsDropsFlaggedPixels(t *testing.T) {
	qa := band("QA_PIXEL", 0, 1<<3, 1<<5, 1<<3|1<<5, 1<<1)
	qa.Valid[4] = true
	red := band("SR_B4", 10000, 10000, 10000, 10000, 10000)

	r, err := raster.New(testGrid(5, 1), time.Time{}, red, qa)
	require.NoError(t, err)

	masked, err := MaskClouds(r, DefaultMaskParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"SR_B4"}, masked.BandNames())

	out, err := masked.Band("SR_B4")
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, true}, out.Valid)
	assert.InDelta(t, 10000*0.0000275-0.2, out.Values[0], 1e-12)
}

func TestMaskCloudsInvalidQAIsMasked(t *testing.T) {
	qa := band("QA_PIXEL", 0, 0)
	qa.Valid[1] = false
	red := band("SR_B4", 8000, 8000)

	r, err := raster.New(testGrid(2, 1), time.Time{}, red, qa)
	require.NoError(t, err)

	masked, err := MaskClouds(r, DefaultMaskParams())
	require.NoError(t, err)
	out, _ := masked.Band("SR_B4")
	assert.Equal(t, []bool{true, false}, out.Valid)
}

func TestMaskCloudsKeepsOutOfRangeReflectance(t *testing.T) {
	qa := band("QA_PIXEL", 0)
	red := band("SR_B4", 1000)

	r, err := raster.New(testGrid(1, 1), time.Time{}, red, qa)
	require.NoError(t, err)

	masked, err := MaskClouds(r, DefaultMaskParams())
	require.NoError(t, err)
	out, _ := masked.Band("SR_B4")
	assert.True(t, out.Valid[0])
	assert.Less(t, out.Values[0], 0.0)
}

func TestMaskCloudsRequiresQABand(t *testing.T) {
	r, err := raster.New(testGrid(1, 1), time.Time{}, band("SR_B4", 1))
	require.NoError(t, err)

	_, err = MaskClouds(r, DefaultMaskParams())
	assert.ErrorIs(t, err, raster.ErrInvalidInput)
}

func TestMaskCloudsCustomBits(t *testing.T) {
	qa := band("QA_PIXEL", 1<<4, 1<<5)
	red := band("SR_B4", 1, 1)
	r, err := raster.New(testGrid(2, 1), time.Time{}, red, qa)
	require.NoError(t, err)

	params := DefaultMaskParams()
	params.ShadowBit = 4
	masked, err := MaskClouds(r, params)
	require.NoError(t, err)
	out, _ := masked.Band("SR_B4")
	assert.Equal(t, []bool{false, true}, out.Valid)
}
