package landscape

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// DefaultNoData is written for NaN cells.
const DefaultNoData = -9999.0

// gzipMagic starts every gzip stream.
var gzipMagic = []byte{0x1f, 0x8b}

// ReadASCIIGrid reads an ESRI ASCII grid as a single named band.
// Gzip-compressed files are detected by their header and decompressed,
// whatever their name. NODATA cells become NaN.
func ReadASCIIGrid(path, band string) (Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return Raster{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(2); bytes.Equal(magic, gzipMagic) {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return Raster{}, fmt.Errorf("gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	raster, err := DecodeASCIIGrid(r, band)
	if err != nil {
		return Raster{}, fmt.Errorf("%s: %w", path, err)
	}
	return raster, nil
}

// DecodeASCIIGrid parses ESRI ASCII grid text. Cell size is in the units of
// the coordinates (degrees for geographic grids).
func DecodeASCIIGrid(r io.Reader, band string) (Raster, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := make(map[string]float64)
	var first string
	for sc.Scan() {
		tok := sc.Text()
		if _, err := strconv.ParseFloat(tok, 64); err == nil {
			first = tok
			break
		}
		if !sc.Scan() {
			return Raster{}, fmt.Errorf("header key %q has no value", tok)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return Raster{}, fmt.Errorf("header %s: %w", tok, err)
		}
		header[strings.ToLower(tok)] = v
	}

	ncols, okc := header["ncols"]
	nrows, okr := header["nrows"]
	cellsize, oks := header["cellsize"]
	dx, dy := cellsize, cellsize
	if !oks && hasKey(header, "dx") && hasKey(header, "dy") {
		dx, dy, oks = header["dx"], header["dy"], true
	}
	if !okc || !okr || !oks {
		return Raster{}, fmt.Errorf("header missing ncols, nrows or cellsize")
	}
	width, height := int(ncols), int(nrows)

	var west, south float64
	switch {
	case hasKey(header, "xllcorner"):
		west, south = header["xllcorner"], header["yllcorner"]
	case hasKey(header, "xllcenter"):
		west, south = header["xllcenter"]-dx/2, header["yllcenter"]-dy/2
	default:
		return Raster{}, fmt.Errorf("header missing xllcorner/xllcenter")
	}
	nodata, hasNoData := header["nodata_value"]

	values := make([]float64, 0, width*height)
	parse := func(tok string) error {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("cell %d: %w", len(values), err)
		}
		if hasNoData && v == nodata {
			v = math.NaN()
		}
		values = append(values, v)
		return nil
	}
	if first != "" {
		if err := parse(first); err != nil {
			return Raster{}, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return Raster{}, err
		}
	}
	if err := sc.Err(); err != nil {
		return Raster{}, err
	}
	if len(values) != width*height {
		return Raster{}, fmt.Errorf("got %d cells, want %d", len(values), width*height)
	}

	east := west + dx*float64(width)
	north := south + dy*float64(height)
	return Raster{
		Width:     width,
		Height:    height,
		Transform: TransformFromBounds(west, south, east, north, width, height),
		Bands:     map[string][]float64{band: values},
	}, nil
}

func hasKey(m map[string]float64, k string) bool {
	_, ok := m[k]
	return ok
}

// WriteASCIIGrid writes one row-major band of a north-up grid. Paths ending in
// .gz are compressed. Non-square pixels use the dx/dy header extension.
func WriteASCIIGrid(path string, g *Grid, band []float64) error {
	if len(band) != g.Width*g.Height {
		return fmt.Errorf("band has %d values, want %d", len(band), g.Width*g.Height)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}

	bw := bufio.NewWriter(w)
	if err := EncodeASCIIGrid(bw, g, band); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			return err
		}
	}
	return f.Close()
}

// EncodeASCIIGrid writes ESRI ASCII grid text for band.
func EncodeASCIIGrid(w io.Writer, g *Grid, band []float64) error {
	west, south, _, _ := g.Extent()
	fmt.Fprintf(w, "ncols %d\nnrows %d\n", g.Width, g.Height)
	fmt.Fprintf(w, "xllcorner %s\nyllcorner %s\n", ftoa(west), ftoa(south))
	if dx, dy := g.Transform.A, -g.Transform.E; dx == dy {
		fmt.Fprintf(w, "cellsize %s\n", ftoa(dx))
	} else {
		fmt.Fprintf(w, "dx %s\ndy %s\n", ftoa(dx), ftoa(dy))
	}
	fmt.Fprintf(w, "NODATA_value %s\n", ftoa(DefaultNoData))

	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			v := band[row*g.Width+col]
			if math.IsNaN(v) {
				v = DefaultNoData
			}
			sep := " "
			if col == g.Width-1 {
				sep = "\n"
			}
			if _, err := io.WriteString(w, ftoa(v)+sep); err != nil {
				return err
			}
		}
	}
	return nil
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
