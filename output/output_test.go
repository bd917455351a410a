package output

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/forest-guardian/forest-change-detection/internal/delivery"
	"github.com/forest-guardian/forest-change-detection/internal/delta"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"github.com/gocarina/gocsv"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	godal.RegisterAll()
	os.Exit(m.Run())
}

func testGrid(w, h int) raster.Grid {
	return raster.Grid{
		Width:        w,
		Height:       h,
		GeoTransform: [6]float64{500000, 30, 0, 2100000, 0, -30},
		Units:        raster.Metres,
	}
}

// classification with loss on the left column, gain on the right and an
// invalid pixel in the top middle
func classification(t *testing.T) *raster.Raster {
	t.Helper()
	g := testGrid(4, 4)
	b := raster.NewBand("classification", g.Pixels())
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			switch {
			case x == 0:
				b.Set(g.Index(x, y), float64(delta.Loss))
			case x == 3:
				b.Set(g.Index(x, y), float64(delta.Gain))
			case y == 0 && x == 1:
			default:
				b.Set(g.Index(x, y), float64(delta.Stable))
			}
		}
	}
	r, err := raster.New(g, time.Time{}, b)
	require.NoError(t, err)
	return r
}

func testReport(t *testing.T) *delivery.Report {
	t.Helper()
	aoi, err := raster.NewAOI("test", testGrid(4, 4).Bound())
	require.NoError(t, err)
	return &delivery.Report{
		RunID:  "run-1",
		AOI:    "test",
		Region: aoi,
		Area: &delivery.AreaReport{
			Resolution: 30,
			ClassKm2: map[delta.Class]float64{
				delta.Loss:   0.0036,
				delta.Stable: 0.0063,
				delta.Gain:   0.0036,
			},
			AOIKm2: 0.0144,
		},
		Matrix:              &delivery.ConfusionMatrix{Counts: [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
		TrainingSetAccuracy: true,
		Classification:      classification(t),
	}
}

func TestGeoTIFFSinkWritesBands(t *testing.T) {
	sink := NewGeoTIFFSink(t.TempDir(), nil)
	r := classification(t)

	require.NoError(t, sink.ExportRaster(context.Background(), r, nil, 30, 1000, "change"))

	ds, err := godal.Open(sink.Path("change"))
	require.NoError(t, err)
	defer ds.Close()

	st := ds.Structure()
	assert.Equal(t, 4, st.SizeX)
	assert.Equal(t, 4, st.SizeY)
	assert.Equal(t, 1, st.NBands)

	gt, err := ds.GeoTransform()
	require.NoError(t, err)
	assert.Equal(t, r.Grid.GeoTransform, gt)

	band := ds.Bands()[0]
	nodata, ok := band.NoData()
	require.True(t, ok)
	assert.Equal(t, float64(NoData), nodata)

	data := make([]float32, 16)
	require.NoError(t, band.Read(0, 0, data, 4, 4))
	assert.Equal(t, float32(delta.Loss), data[0])
	assert.Equal(t, float32(NoData), data[1])
	assert.Equal(t, float32(delta.Gain), data[3])
}

func TestGeoTIFFSinkCoarsens(t *testing.T) {
	sink := NewGeoTIFFSink(t.TempDir(), nil)

	require.NoError(t, sink.ExportRaster(context.Background(), classification(t), nil, 60, 1000, "coarse"))

	ds, err := godal.Open(sink.Path("coarse"))
	require.NoError(t, err)
	defer ds.Close()
	assert.Equal(t, 2, ds.Structure().SizeX)
}

func TestGeoTIFFSinkKeepsDegreeGridAtNativeResolution(t *testing.T) {
	g := raster.Grid{
		Width:        8,
		Height:       8,
		GeoTransform: [6]float64{78.5, 0.00027, 0, 19.5, 0, -0.00027},
		Units:        raster.Degrees,
	}
	b := raster.NewBand("classification", g.Pixels())
	for i := range b.Values {
		b.Set(i, float64(delta.Stable))
	}
	r, err := raster.New(g, time.Time{}, b)
	require.NoError(t, err)
	sink := NewGeoTIFFSink(t.TempDir(), nil)

	require.NoError(t, sink.ExportRaster(context.Background(), r, nil, 30, 1000, "native"))
	require.NoError(t, sink.ExportRaster(context.Background(), r, nil, 120, 1000, "coarse"))

	native, err := godal.Open(sink.Path("native"))
	require.NoError(t, err)
	defer native.Close()
	assert.Equal(t, 8, native.Structure().SizeX)

	coarse, err := godal.Open(sink.Path("coarse"))
	require.NoError(t, err)
	defer coarse.Close()
	assert.Equal(t, 2, coarse.Structure().SizeX)
}

func TestGeoTIFFSinkPixelBudget(t *testing.T) {
	sink := NewGeoTIFFSink(t.TempDir(), nil)

	err := sink.ExportRaster(context.Background(), classification(t), nil, 30, 10, "change")
	assert.ErrorIs(t, err, ErrPixelBudget)
	assert.NoFileExists(t, sink.Path("change"))
}

func TestCreateClassificationImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img", "change.png")
	require.NoError(t, CreateClassificationImage(classification(t), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)

	scale := minImageWidth / 4
	assert.Equal(t, minImageWidth, img.Bounds().Dx())
	assert.Greater(t, img.Bounds().Dy(), 4*scale)

	r, g, b, _ := img.At(scale/2, scale*2).RGBA()
	want := delta.Loss.Color()
	assert.Equal(t, uint32(want.R), r>>8)
	assert.Equal(t, uint32(want.G), g>>8)
	assert.Equal(t, uint32(want.B), b>>8)

	// invalid pixels stay white
	r, g, b, _ = img.At(scale+scale/2, scale/2).RGBA()
	assert.Equal(t, []uint32{255, 255, 255}, []uint32{r >> 8, g >> 8, b >> 8})
}

func TestCreateAreaGeoJSON(t *testing.T) {
	report := testReport(t)
	path := filepath.Join(t.TempDir(), "area.geojson")
	require.NoError(t, CreateAreaGeoJSON(report, report.Region, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	fc, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.IsType(t, orb.MultiPolygon{}, f.Geometry)
	assert.Equal(t, "run-1", f.Properties.MustString("run_id"))
	assert.InDelta(t, 0.0036, f.Properties.MustFloat64("loss_km2"), 1e-12)
	assert.InDelta(t, 0.0144, f.Properties.MustFloat64("aoi_km2"), 1e-12)
}

func TestWriteAreaCSV(t *testing.T) {
	report := testReport(t)
	path := filepath.Join(t.TempDir(), "area.csv")
	require.NoError(t, WriteAreaCSV(report, path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	var rows []*AreaRow
	require.NoError(t, gocsv.UnmarshalFile(file, &rows))
	require.Len(t, rows, delta.NumClasses+1)
	assert.Equal(t, "loss", rows[0].Class)
	assert.InDelta(t, 0.25, rows[0].ShareOfAOI, 1e-12)
	assert.Equal(t, "aoi", rows[3].Class)
	assert.InDelta(t, 1.0, rows[3].ShareOfAOI, 1e-12)
}

func TestWriteResults(t *testing.T) {
	dir := t.TempDir()
	files, err := WriteResults(testReport(t), dir)
	require.NoError(t, err)

	assert.FileExists(t, files.Image)
	assert.FileExists(t, files.GeoJSON)
	assert.FileExists(t, files.CSV)
	assert.Equal(t, filepath.Join(dir, "run-1.png"), files.Image)
}
