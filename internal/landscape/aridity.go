package landscape

import (
	"fmt"

	"github.com/talgya/jotrsim/internal/rng"
	"github.com/talgya/jotrsim/internal/simerr"
)

// DefaultAridityNoise is the upper bound of the uniform noise added to the
// inverted elevation before scaling.
const DefaultAridityNoise = 1000.0

// WithPlaceholderAridity adds an aridity band derived from elevation:
//
//	aridity = (10000 - elevation + U(0, noise)) / 10000
//
// Higher ground is less arid. This stands in for a real aridity index.
// The input raster's band map is copied, not modified.
func WithPlaceholderAridity(r Raster, src rng.Source, noise float64) (Raster, error) {
	elev, ok := r.Bands[BandElevation]
	if !ok {
		return r, fmt.Errorf("%w: missing raster band %q", simerr.ErrConfiguration, BandElevation)
	}

	arid := make([]float64, len(elev))
	for i, e := range elev {
		arid[i] = (10000 - e + src.Float64()*noise) / 10000
	}

	bands := make(map[string][]float64, len(r.Bands)+1)
	for k, v := range r.Bands {
		bands[k] = v
	}
	bands[BandAridity] = arid
	r.Bands = bands
	return r, nil
}

// Uniform returns a raster with constant elevation and aridity, used by
// controlled experiments and tests.
func Uniform(bounds [4]float64, width, height int, elevation, aridity float64) Raster {
	n := width * height
	elev := make([]float64, n)
	arid := make([]float64, n)
	for i := 0; i < n; i++ {
		elev[i] = elevation
		arid[i] = aridity
	}
	return Raster{
		Width:     width,
		Height:    height,
		Transform: TransformFromBounds(bounds[0], bounds[1], bounds[2], bounds[3], width, height),
		Bands: map[string][]float64{
			BandElevation: elev,
			BandAridity:   arid,
		},
	}
}
