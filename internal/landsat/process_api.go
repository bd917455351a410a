package landsat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest-guardian/forest-change-detection/internal/properties"
	"github.com/forest-guardian/forest-change-detection/internal/raster"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
)

var errUnauthorized = errors.New("unauthorized access, check your client ID and secret")

// statusError is a response the API answered with a status other than success.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}

// Temporary reports whether the request may succeed when sent again.
func (e *statusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// collectionTypes maps catalog ids to process API collection types.
var collectionTypes = map[string]string{
	"LANDSAT/LT05/C02/T1_L2": "landsat-tm-l2",
	"LANDSAT/LE07/C02/T1_L2": "landsat-etm-l2",
	"LANDSAT/LC08/C02/T1_L2": "landsat-ot-l2",
	"LANDSAT/LC09/C02/T1_L2": "landsat-ot-l2",
}

type Credential struct {
	ClientID     string
	ClientSecret string
}

// CredentialsFromEnv pairs the comma separated client ids and secrets found in
// the environment.
func CredentialsFromEnv() ([]Credential, error) {
	ids := properties.CopernicusClientID()
	secrets := properties.CopernicusClientSecret()
	if ids == "" || secrets == "" || properties.CopernicusTokenURL() == "" {
		return nil, fmt.Errorf("missing required environment variables: COPERNICUS_CLIENT_ID, COPERNICUS_CLIENT_SECRET, or COPERNICUS_TOKEN_URL")
	}

	idList := strings.Split(ids, ",")
	secretList := strings.Split(secrets, ",")
	if len(idList) != len(secretList) {
		return nil, fmt.Errorf("mismatched number of client IDs and secrets")
	}

	creds := make([]Credential, len(idList))
	for i := range idList {
		creds[i] = Credential{ClientID: strings.TrimSpace(idList[i]), ClientSecret: strings.TrimSpace(secretList[i])}
	}
	return creds, nil
}

// ProcessAPISource downloads one GeoTIFF per revisit window from a process API
// into the directory layout of Dir and then serves collections from there.
// Windows already on disk are not requested again.
type ProcessAPISource struct {
	Dir          *DirectorySource
	URL          string
	TokenURL     string
	Credentials  []Credential
	IntervalDays int
	Resolution   float64
	Retries      int
	RetryDelay   time.Duration
	Logger       *zap.Logger
}

func NewProcessAPISource(dir *DirectorySource, intervalDays int, logger *zap.Logger) (*ProcessAPISource, error) {
	creds, err := CredentialsFromEnv()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessAPISource{
		Dir:          dir,
		URL:          properties.ProcessAPIURL(),
		TokenURL:     properties.CopernicusTokenURL(),
		Credentials:  creds,
		IntervalDays: intervalDays,
		Resolution:   30,
		Retries:      10,
		RetryDelay:   5 * time.Second,
		Logger:       logger,
	}, nil
}

func (s *ProcessAPISource) FetchCollection(ctx context.Context, catalogID string, aoi *raster.AOI, dr raster.DateRange) (*raster.Collection, error) {
	if _, err := s.Sync(ctx, catalogID, aoi, dr); err != nil {
		return nil, err
	}
	return s.Dir.FetchCollection(ctx, catalogID, aoi, dr)
}

func (s *ProcessAPISource) PixelAreaRaster(ctx context.Context, aoi *raster.AOI, grid raster.Grid) (*raster.Raster, error) {
	return s.Dir.PixelAreaRaster(ctx, aoi, grid)
}

// Sync downloads the missing windows of dr and returns the number of files
// written. Windows for which the API returns no data are skipped.
func (s *ProcessAPISource) Sync(ctx context.Context, catalogID string, aoi *raster.AOI, dr raster.DateRange) (int, error) {
	if err := dr.Validate(); err != nil {
		return 0, err
	}
	interval := s.IntervalDays
	if interval <= 0 {
		interval = 16
	}

	dir := s.Dir.CatalogDir(catalogID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	prefix := strings.ReplaceAll(catalogID, "/", "_")

	written := 0
	for start := dr.Start; start.Before(dr.End); start = start.AddDate(0, 0, interval) {
		end := start.AddDate(0, 0, interval)
		if end.After(dr.End) {
			end = dr.End
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%s.tif", prefix, start.Format(time.DateOnly)))
		if _, err := os.Stat(path); err == nil {
			s.logger().Debug("window cached", zap.String("path", path))
			continue
		}

		body, err := s.requestImage(ctx, catalogID, aoi, start, end)
		if err != nil {
			return written, fmt.Errorf("window %s: %w", start.Format(time.DateOnly), err)
		}
		if len(body) == 0 {
			continue
		}

		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, body, 0644); err != nil {
			return written, fmt.Errorf("failed to write scene: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return written, fmt.Errorf("failed to move scene into place: %w", err)
		}
		written++
		s.logger().Debug("window downloaded", zap.String("path", path), zap.Int("bytes", len(body)))
	}
	return written, nil
}

func (s *ProcessAPISource) requestImage(ctx context.Context, catalogID string, aoi *raster.AOI, start, end time.Time) ([]byte, error) {
	payload, err := s.requestPayload(catalogID, aoi, start, end)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, cred := range s.Credentials {
		config := &clientcredentials.Config{
			ClientID:     cred.ClientID,
			ClientSecret: cred.ClientSecret,
			TokenURL:     s.TokenURL,
		}
		httpClient := config.Client(ctx)

		body, err := s.postWithRetry(ctx, httpClient, payload)
		if err == nil {
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *statusError
		if errors.As(err, &se) && !se.Temporary() {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no credentials configured")
	}
	return nil, lastErr
}

func (s *ProcessAPISource) postWithRetry(ctx context.Context, client *http.Client, payload []byte) ([]byte, error) {
	retries := s.Retries
	if retries < 1 {
		retries = 1
	}

	var err error
	for attempt := 1; attempt <= retries; attempt++ {
		var body []byte
		var status int
		body, status, err = post(ctx, client, s.URL, payload)
		switch {
		case err == nil && status == http.StatusOK:
			return body, nil
		case err == nil && status == http.StatusNoContent:
			return nil, nil
		case err == nil && (status == http.StatusUnauthorized || status == http.StatusForbidden):
			return nil, errUnauthorized
		case err == nil:
			se := &statusError{Status: status, Body: strings.TrimSpace(string(body))}
			if !se.Temporary() {
				return nil, se
			}
			err = se
		}
		s.logger().Warn("process api request failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.RetryDelay):
		}
	}
	return nil, fmt.Errorf("failed to request image after %d attempts: %w", retries, err)
}

func post(ctx context.Context, client *http.Client, url string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/tiff")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (s *ProcessAPISource) requestPayload(catalogID string, aoi *raster.AOI, start, end time.Time) ([]byte, error) {
	bandNames := s.Dir.Bands[catalogID]
	if len(bandNames) == 0 {
		return nil, fmt.Errorf("%w: no band layout configured for catalog %s", raster.ErrInvalidInput, catalogID)
	}
	if aoi == nil {
		return nil, fmt.Errorf("%w: the process api needs an aoi to request", raster.ErrInvalidInput)
	}
	collectionType, ok := collectionTypes[catalogID]
	if !ok {
		collectionType = catalogID
	}

	bound := aoi.Bound()
	width := s.pixels(bound.Max[0] - bound.Min[0])
	height := s.pixels(bound.Max[1] - bound.Min[1])

	requestPayload := map[string]interface{}{
		"input": map[string]interface{}{
			"bounds": map[string]interface{}{
				"bbox": []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
			},
			"data": []map[string]interface{}{
				{
					"dataFilter": map[string]interface{}{
						"timeRange": map[string]string{
							"from": start.Format(time.RFC3339),
							"to":   end.Format(time.RFC3339),
						},
					},
					"type": collectionType,
				},
			},
		},
		"output": map[string]interface{}{
			"width":  width,
			"height": height,
			"responses": []map[string]interface{}{
				{
					"identifier": "default",
					"format":     map[string]string{"type": "image/tiff"},
				},
			},
		},
		"evalscript": evalscript(bandNames),
		"mosaicking": "mostRecent",
	}

	body, err := json.Marshal(requestPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}
	return body, nil
}

// pixels converts an extent in degrees to a pixel count at the source
// resolution, clamped to the API limits.
func (s *ProcessAPISource) pixels(extent float64) int {
	resolution := s.Resolution
	if resolution <= 0 {
		resolution = 30
	}
	px := int(extent * 111_000.0 / resolution)
	if px < 1 {
		return 1
	}
	if px > 2500 {
		return 2500
	}
	return px
}

func evalscript(bandNames []string) string {
	inputs := make([]string, len(bandNames))
	samples := make([]string, len(bandNames))
	for i, name := range bandNames {
		api := apiBandName(name)
		inputs[i] = fmt.Sprintf("%q", api)
		samples[i] = "sample." + api
	}
	return fmt.Sprintf(`//VERSION=3
function setup() {
  return {
    input: [{ bands: [%s], units: "DN" }],
    output: { id: "default", bands: %d, sampleType: SampleType.FLOAT32 },
  }
}

function evaluatePixel(sample) {
  return [%s];
}
`, strings.Join(inputs, ", "), len(bandNames), strings.Join(samples, ", "))
}

// apiBandName maps Collection 2 band names to process API names: SR_B4 to B04
// and QA_PIXEL to BQA. Other names pass through.
func apiBandName(name string) string {
	if name == "QA_PIXEL" {
		return "BQA"
	}
	if rest, ok := strings.CutPrefix(name, "SR_B"); ok && len(rest) == 1 {
		return "B0" + rest
	}
	return name
}

func (s *ProcessAPISource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
