package decode

import (
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/datadock/datadock/pkg/table"
)

// GeometryColumn is the column carrying the orb.Geometry of each feature.
const GeometryColumn = "geometry"

// decodeGeoJSON reads a feature collection into a table: one row per
// feature, one column per property key (union across features), plus
// the geometry column.
func decodeGeoJSON(src source) (*table.Table, error) {
	content := src.content
	if !src.inMemory() {
		var err error
		content, err = os.ReadFile(src.path)
		if err != nil {
			return nil, err
		}
	}

	fc, err := geojson.UnmarshalFeatureCollection(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse geojson: %w", err)
	}

	keySet := make(map[string]struct{})
	for _, f := range fc.Features {
		for k := range f.Properties {
			keySet[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tbl := table.New(append(keys, GeometryColumn)...)
	for _, f := range fc.Features {
		row := make([]interface{}, 0, len(keys)+1)
		for _, k := range keys {
			row = append(row, f.Properties[k])
		}
		row = append(row, f.Geometry)
		tbl.AppendRow(row)
	}
	return tbl, nil
}
