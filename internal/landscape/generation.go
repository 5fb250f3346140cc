// Synthetic elevation using layered simplex noise, for runs without a DEM file.
package landscape

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// metersPerDegree is the length of one degree of latitude.
const metersPerDegree = 111320.0

// GenConfig holds synthetic landscape parameters.
type GenConfig struct {
	Bounds       [4]float64 // west, south, east, north in degrees
	ResolutionM  float64    // Cell size in meters
	Seed         int64
	MinElevation float64 // Meters
	MaxElevation float64 // Meters
	Octaves      int
	Frequency    float64 // Noise frequency per cell
}

// GridSize returns the raster dimensions that cover bounds at resolutionM.
func GridSize(bounds [4]float64, resolutionM float64) (width, height int) {
	west, south, east, north := bounds[0], bounds[1], bounds[2], bounds[3]
	midLat := (south + north) / 2
	widthM := (east - west) * metersPerDegree * math.Cos(midLat*math.Pi/180)
	heightM := (north - south) * metersPerDegree
	width = int(math.Ceil(widthM / resolutionM))
	height = int(math.Ceil(heightM / resolutionM))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	return width, height
}

// Generate creates a raster with a synthetic elevation band. Add an aridity
// band with WithPlaceholderAridity before building a Grid.
func Generate(cfg GenConfig) Raster {
	width, height := GridSize(cfg.Bounds, cfg.ResolutionM)
	noise := opensimplex.NewNormalized(cfg.Seed)

	octaves := cfg.Octaves
	if octaves <= 0 {
		octaves = 1
	}

	elev := make([]float64, width*height)
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			n := octaveNoise(noise, float64(col), float64(row), octaves, cfg.Frequency, 0.5)
			elev[row*width+col] = cfg.MinElevation + n*(cfg.MaxElevation-cfg.MinElevation)
		}
	}

	return Raster{
		Width:     width,
		Height:    height,
		Transform: TransformFromBounds(cfg.Bounds[0], cfg.Bounds[1], cfg.Bounds[2], cfg.Bounds[3], width, height),
		Bands:     map[string][]float64{BandElevation: elev},
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
