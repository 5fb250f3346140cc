// Package landscape provides the raster grid, its geographic transform,
// and per-cell occupancy. Positions are geographic (lon, lat) in degrees.
// Row 0 is the northern edge of the raster; agent positions use the same
// orientation, so a position's row grows southward.
package landscape

import (
	"fmt"
	"math"
)

// Point is a geographic position: X is longitude, Y is latitude.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Transform maps (col, row) to geographic coordinates:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// Coefficient order follows the GDAL/rasterio affine convention.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// TransformFromBounds builds a north-up transform covering [west, east] x [south, north]
// with the given raster size. E is negative so row 0 is the northern edge.
func TransformFromBounds(west, south, east, north float64, width, height int) Transform {
	return Transform{
		A: (east - west) / float64(width),
		C: west,
		E: -(north - south) / float64(height),
		F: north,
	}
}

// Forward returns the geographic position of fractional pixel coordinates.
func (t Transform) Forward(col, row float64) Point {
	return Point{
		X: t.A*col + t.B*row + t.C,
		Y: t.D*col + t.E*row + t.F,
	}
}

// Inverse returns fractional (col, row) for a geographic position.
func (t Transform) Inverse(p Point) (col, row float64, err error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return 0, 0, fmt.Errorf("singular transform")
	}
	dx := p.X - t.C
	dy := p.Y - t.F
	col = (t.E*dx - t.B*dy) / det
	row = (-t.D*dx + t.A*dy) / det
	return col, row, nil
}

// Index floors the inverse transform to integer (row, col).
func (t Transform) Index(p Point) (row, col int, err error) {
	c, r, err := t.Inverse(p)
	if err != nil {
		return 0, 0, err
	}
	return int(math.Floor(r)), int(math.Floor(c)), nil
}

// CellCenter returns the position of the center of cell (row, col).
func (t Transform) CellCenter(row, col int) Point {
	return t.Forward(float64(col)+0.5, float64(row)+0.5)
}
