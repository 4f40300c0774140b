// Package decode turns raw file content into in-memory tables.
// Dispatch is purely by filename suffix; unrecognized suffixes are not
// an error, they return (nil, nil) and the caller decides what that
// means. Malformed content for a recognized suffix returns (nil, err).
package decode

import (
	"path/filepath"
	"strings"

	"github.com/datadock/datadock/pkg/table"
)

// Supported file extensions.
const (
	ExtParquet = ".parquet"
	ExtCSV     = ".csv"
	ExtText    = ".txt"
	ExtXLSX    = ".xlsx"
	ExtGeoJSON = ".geojson"
)

// Extensions lists every suffix the decoder understands.
var Extensions = []string{ExtParquet, ExtCSV, ExtText, ExtXLSX, ExtGeoJSON}

// Supported reports whether the filename has a decodable suffix.
func Supported(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// Bytes decodes in-memory content according to the filename suffix.
func Bytes(filename string, content []byte) (*table.Table, error) {
	return decode(filename, source{content: content})
}

// File decodes an on-disk file according to the filename suffix.
// The path is where the content lives; the filename drives dispatch
// (cached files may live under a different directory layout).
func File(filename, path string) (*table.Table, error) {
	return decode(filename, source{path: path})
}

// source is either in-memory content or an on-disk path.
type source struct {
	content []byte
	path    string
}

func (s source) inMemory() bool { return s.path == "" }

func decode(filename string, src source) (*table.Table, error) {
	var (
		tbl *table.Table
		err error
	)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ExtParquet:
		tbl, err = decodeParquet(src)
	case ExtCSV:
		tbl, err = decodeDelimited(src, ',')
	case ExtText:
		tbl, err = decodeDelimited(src, '\t')
	case ExtXLSX:
		tbl, err = decodeXLSX(src)
	case ExtGeoJSON:
		tbl, err = decodeGeoJSON(src)
	default:
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	tbl.CoerceDatetimes()
	return tbl, nil
}
