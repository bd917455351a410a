package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// AOINames returns the distinct values of property over the features of the
// GeoJSON file at path.
func AOINames(path, property string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding GEOJSON: %w", err)
	}

	seen := make(map[string]bool)
	var names []string
	for _, f := range fc.Features {
		name := f.Properties.MustString(property, "")
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no %q values found in %s", property, filepath.Base(path))
	}
	sort.Strings(names)
	return names, nil
}

// ListAOIs prints every AOI that can be selected from the GeoJSON file.
func ListAOIs(path, property string) {
	PrintWarning(fmt.Sprintf("AOIs are the features of '%s' selected by their '%s' property.", path, property))

	names, err := AOINames(path, property)
	if err != nil {
		PrintError(err.Error())
		return
	}

	fmt.Printf("\n%sAvailable AOIs:%s\n", ColorGreen, ColorReset)
	for _, name := range names {
		fmt.Printf("%s- %s%s\n", ColorGreen, name, ColorReset)
	}
}

// ListGeoJSONFiles prints the GeoJSON files found in dir.
func ListGeoJSONFiles(dir string) {
	files, err := os.ReadDir(dir)
	if err != nil {
		PrintError(fmt.Sprintf("Error reading aoi folder: %s", err.Error()))
		return
	}

	fmt.Printf("\n%sAOI files:%s\n", ColorGreen, ColorReset)
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".geojson") {
			fmt.Printf("%s- %s%s\n", ColorGreen, file.Name(), ColorReset)
		}
	}
}
