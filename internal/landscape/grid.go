package landscape

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/talgya/jotrsim/internal/simerr"
)

// Band names the grid requires.
const (
	BandElevation = "elevation"
	BandAridity   = "aridity"
)

// DefaultRefugiaPercentile marks the top 10% of elevations as refugia.
const DefaultRefugiaPercentile = 0.9

// Raster is a fixed-resolution set of named bands aligned to one transform.
// Band data is row-major: index = row*Width + col.
type Raster struct {
	Width     int
	Height    int
	Transform Transform
	Bands     map[string][]float64
}

// Cell is one raster pixel. Elevation, Aridity and Refugia are fixed at
// construction; the occupant list changes as agents register each tick.
type Cell struct {
	Row       int     `json:"row"`
	Col       int     `json:"col"`
	Elevation float64 `json:"elevation"`
	Aridity   float64 `json:"aridity"`
	Refugia   bool    `json:"refugia"`

	occupants []uint64
}

// Occupants returns a copy of the occupant IDs in registration order.
func (c *Cell) Occupants() []uint64 {
	return append([]uint64(nil), c.occupants...)
}

// OccupantCount returns the number of registered occupants.
func (c *Cell) OccupantCount() int {
	return len(c.occupants)
}

// CellView is a read-only copy of a cell for rendering consumers.
type CellView struct {
	Row       int      `json:"row"`
	Col       int      `json:"col"`
	Elevation float64  `json:"elevation"`
	Aridity   float64  `json:"aridity"`
	Refugia   bool     `json:"refugia"`
	Occupants []uint64 `json:"occupants"`
}

// Grid holds the landscape cells and the geographic transform.
type Grid struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Transform Transform `json:"transform"`

	// RefugiaElevation is the elevation percentile value above which cells are refugia.
	RefugiaElevation float64 `json:"refugia_elevation"`

	cells []Cell
}

// NewGrid builds a grid from a raster carrying elevation and aridity bands.
// refugiaPercentile in (0, 1]; zero selects DefaultRefugiaPercentile.
func NewGrid(r Raster, refugiaPercentile float64) (*Grid, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("%w: raster size %dx%d", simerr.ErrConfiguration, r.Width, r.Height)
	}
	n := r.Width * r.Height
	for _, name := range []string{BandElevation, BandAridity} {
		band, ok := r.Bands[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing raster band %q", simerr.ErrConfiguration, name)
		}
		if len(band) != n {
			return nil, fmt.Errorf("%w: band %q has %d values, want %d", simerr.ErrConfiguration, name, len(band), n)
		}
	}
	if refugiaPercentile == 0 {
		refugiaPercentile = DefaultRefugiaPercentile
	}
	if refugiaPercentile < 0 || refugiaPercentile > 1 {
		return nil, fmt.Errorf("%w: refugia percentile %v outside [0, 1]", simerr.ErrConfiguration, refugiaPercentile)
	}

	elev := r.Bands[BandElevation]
	arid := r.Bands[BandAridity]

	g := &Grid{
		Width:     r.Width,
		Height:    r.Height,
		Transform: r.Transform,
		cells:     make([]Cell, n),
	}
	g.RefugiaElevation = percentile(elev, refugiaPercentile)

	for row := 0; row < r.Height; row++ {
		for col := 0; col < r.Width; col++ {
			i := row*r.Width + col
			g.cells[i] = Cell{
				Row:       row,
				Col:       col,
				Elevation: elev[i],
				Aridity:   arid[i],
				Refugia:   elev[i] > g.RefugiaElevation,
			}
		}
	}
	return g, nil
}

// percentile returns the empirical quantile of the finite values.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			sorted = append(sorted, v)
		}
	}
	if len(sorted) == 0 {
		return math.Inf(1)
	}
	sort.Float64s(sorted)
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// InBounds reports whether (row, col) lies inside the raster.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && row < g.Height && col >= 0 && col < g.Width
}

// IsAtBoundary reports whether (row, col) is an edge cell.
func (g *Grid) IsAtBoundary(row, col int) bool {
	return row == 0 || row == g.Height-1 || col == 0 || col == g.Width-1
}

// Index maps a position to (row, col), failing outside the loaded extent.
func (g *Grid) Index(p Point) (row, col int, err error) {
	row, col, err = g.Transform.Index(p)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", simerr.ErrConfiguration, err)
	}
	if !g.InBounds(row, col) {
		return row, col, fmt.Errorf("%w: position (%.6f, %.6f) maps to row %d col %d outside %dx%d grid",
			simerr.ErrSpatialLookup, p.X, p.Y, row, col, g.Height, g.Width)
	}
	return row, col, nil
}

// CellAt returns the cell containing a position.
func (g *Grid) CellAt(p Point) (*Cell, error) {
	row, col, err := g.Index(p)
	if err != nil {
		return nil, err
	}
	return &g.cells[row*g.Width+col], nil
}

// Cell returns the cell at (row, col).
func (g *Grid) Cell(row, col int) (*Cell, error) {
	if !g.InBounds(row, col) {
		return nil, fmt.Errorf("%w: row %d col %d outside %dx%d grid", simerr.ErrSpatialLookup, row, col, g.Height, g.Width)
	}
	return &g.cells[row*g.Width+col], nil
}

// AridityAt returns the aridity of cell (row, col).
func (g *Grid) AridityAt(row, col int) (float64, error) {
	c, err := g.Cell(row, col)
	if err != nil {
		return 0, err
	}
	return c.Aridity, nil
}

// RegisterOccupant appends id to the cell's occupants. Re-registering is a no-op.
// Returns true if the list changed.
func (g *Grid) RegisterOccupant(c *Cell, id uint64) bool {
	for _, o := range c.occupants {
		if o == id {
			return false
		}
	}
	c.occupants = append(c.occupants, id)
	return true
}

// RemoveOccupant drops id from the cell's occupants, preserving order.
// Returns true if id was present.
func (g *Grid) RemoveOccupant(c *Cell, id uint64) bool {
	for i, o := range c.occupants {
		if o == id {
			c.occupants = append(c.occupants[:i], c.occupants[i+1:]...)
			return true
		}
	}
	return false
}

// CellCenter returns the geographic center of cell (row, col).
func (g *Grid) CellCenter(row, col int) Point {
	return g.Transform.CellCenter(row, col)
}

// Extent returns the bounding box (west, south, east, north) of a north-up grid.
func (g *Grid) Extent() (west, south, east, north float64) {
	nw := g.Transform.Forward(0, 0)
	se := g.Transform.Forward(float64(g.Width), float64(g.Height))
	return math.Min(nw.X, se.X), math.Min(nw.Y, se.Y), math.Max(nw.X, se.X), math.Max(nw.Y, se.Y)
}

// View returns a read-only copy of cell (row, col).
func (g *Grid) View(row, col int) (CellView, bool) {
	c, err := g.Cell(row, col)
	if err != nil {
		return CellView{}, false
	}
	return c.view(), true
}

// Views returns read-only copies of all cells in row-major order.
func (g *Grid) Views() []CellView {
	views := make([]CellView, len(g.cells))
	for i := range g.cells {
		views[i] = g.cells[i].view()
	}
	return views
}

func (c *Cell) view() CellView {
	return CellView{
		Row:       c.Row,
		Col:       c.Col,
		Elevation: c.Elevation,
		Aridity:   c.Aridity,
		Refugia:   c.Refugia,
		Occupants: c.Occupants(),
	}
}

// RefugiaCount returns how many cells are classified as refugia.
func (g *Grid) RefugiaCount() int {
	n := 0
	for i := range g.cells {
		if g.cells[i].Refugia {
			n++
		}
	}
	return n
}

// OccupancyBand returns per-cell occupant counts as a row-major band.
func (g *Grid) OccupancyBand() []float64 {
	band := make([]float64, len(g.cells))
	for i := range g.cells {
		band[i] = float64(len(g.cells[i].occupants))
	}
	return band
}

// Band returns a row-major copy of a fixed cell attribute.
func (g *Grid) Band(name string) ([]float64, error) {
	band := make([]float64, len(g.cells))
	for i := range g.cells {
		switch name {
		case BandElevation:
			band[i] = g.cells[i].Elevation
		case BandAridity:
			band[i] = g.cells[i].Aridity
		default:
			return nil, fmt.Errorf("unknown band %q", name)
		}
	}
	return band, nil
}
