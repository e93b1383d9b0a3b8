// Package geo annotates cases with their distance from the device.
package geo

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"tilsynsapp/internal/models"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// Unknown is the distance given to rows without coordinates so they sort last.
const Unknown = float32(math.MaxFloat32)

// Location is a device position.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceInMeters calculates the great-circle distance between two
// coordinates.
func DistanceInMeters(fromLat, fromLon, toLat, toLon float64) float32 {
	// orb points are (lon, lat)
	d := orbgeo.DistanceHaversine(orb.Point{fromLon, fromLat}, orb.Point{toLon, toLat})
	return float32(d)
}

// AnnotateDistances returns a copy of rows with DistanceFromCurrent set,
// nearest first.
func AnnotateDistances(rows []models.VejmanKassenRow, current Location) []models.VejmanKassenRow {
	out := make([]models.VejmanKassenRow, len(rows))
	for i, row := range rows {
		d := Unknown
		if row.Latitude != nil && row.Longitude != nil {
			d = DistanceInMeters(current.Lat, current.Lon, *row.Latitude, *row.Longitude)
		}
		row.DistanceFromCurrent = &d
		out[i] = row
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].DistanceFromCurrent < *out[j].DistanceFromCurrent
	})
	return out
}

// ParseLocation reads a "lat"/"lon" pair as given on a query string or the
// command line. Both empty means no location.
func ParseLocation(lat, lon string) (*Location, error) {
	lat, lon = strings.TrimSpace(lat), strings.TrimSpace(lon)
	if lat == "" && lon == "" {
		return nil, nil
	}
	if lat == "" || lon == "" {
		return nil, errors.New("lat and lon must be given together")
	}
	la, err := strconv.ParseFloat(lat, 64)
	if err != nil || la < -90 || la > 90 {
		return nil, errors.New("invalid lat")
	}
	lo, err := strconv.ParseFloat(lon, 64)
	if err != nil || lo < -180 || lo > 180 {
		return nil, errors.New("invalid lon")
	}
	return &Location{Lat: la, Lon: lo}, nil
}
