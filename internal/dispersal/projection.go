package dispersal

import (
	"fmt"

	UTM "github.com/im7mortal/UTM"

	"github.com/talgya/jotrsim/internal/landscape"
)

// Projected is a planar position in meters within one UTM zone.
type Projected struct {
	Easting    float64
	Northing   float64
	ZoneNumber int
	ZoneLetter string
}

// ToUTM projects a geographic point into the UTM zone that contains it.
func ToUTM(p landscape.Point) (Projected, error) {
	e, n, zone, letter, err := UTM.FromLatLon(p.Y, p.X, p.Y >= 0)
	if err != nil {
		return Projected{}, fmt.Errorf("project (%.6f, %.6f): %w", p.X, p.Y, err)
	}
	return Projected{Easting: e, Northing: n, ZoneNumber: zone, ZoneLetter: letter}, nil
}

// FromUTM converts a projected position back to geographic coordinates.
func FromUTM(q Projected) (landscape.Point, error) {
	lat, lon, err := UTM.ToLatLon(q.Easting, q.Northing, q.ZoneNumber, q.ZoneLetter)
	if err != nil {
		return landscape.Point{}, fmt.Errorf("unproject zone %d%s: %w", q.ZoneNumber, q.ZoneLetter, err)
	}
	return landscape.Point{X: lon, Y: lat}, nil
}

// Offset moves q by (east, north) meters, staying in q's zone.
func (q Projected) Offset(east, north float64) Projected {
	q.Easting += east
	q.Northing += north
	return q
}
