// Package orbit turns an air-gap result into rotor and stator polygons and
// the rotor eccentricity for one pole, revolution and reference sensor.
package orbit

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"

	"rdsp/internal/core"
)

// Selection picks the stator reference pole, the revolution and the rotor
// reference sensor. All indexes are zero based; Sensor indexes the sensors
// sorted by mounting angle.
type Selection struct {
	Pole       int
	Revolution int
	Sensor     int
}

// Point is a polygon vertex in polar (degrees) and Cartesian form.
type Point struct {
	Angle  float64
	Radius float64
	X      float64
	Y      float64
}

// Eccentricity is the mean rotor offset.
type Eccentricity struct {
	X         float64
	Y         float64
	Magnitude float64
}

// Orbit is the computed view. Rotor and Stator are closed: the last point
// repeats the first.
type Orbit struct {
	Sensor       string
	Speed        float64
	Max          float64
	Min          float64
	Range        float64
	Rotor        []Point
	Stator       []Point
	Eccentricity Eccentricity
}

// ErrEmpty is returned for results without any finite value.
var ErrEmpty = errors.New("orbit: result holds no finite values")

// Compute builds the orbit for sel.
func Compute(r core.Result, sel Selection) (Orbit, error) {
	if len(r) == 0 {
		return Orbit{}, ErrEmpty
	}
	sorted := make([]core.TrackResult, len(r))
	copy(sorted, r)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Angle < sorted[j].Angle })

	if sel.Sensor < 0 || sel.Sensor >= len(sorted) {
		return Orbit{}, fmt.Errorf("orbit: sensor %d outside [0,%d)", sel.Sensor, len(sorted))
	}
	for _, tr := range sorted {
		if sel.Pole < 0 || sel.Pole >= len(tr.Data) {
			return Orbit{}, fmt.Errorf("orbit: pole %d outside [0,%d) for %s", sel.Pole, len(tr.Data), tr.Name)
		}
		if sel.Revolution < 0 || sel.Revolution >= len(tr.Data[sel.Pole]) {
			return Orbit{}, fmt.Errorf("orbit: revolution %d outside [0,%d) for %s", sel.Revolution, len(tr.Data[sel.Pole]), tr.Name)
		}
	}
	hi, lo, ok := bounds(sorted)
	if !ok {
		return Orbit{}, ErrEmpty
	}
	o := Orbit{Max: hi, Min: lo, Range: (hi - lo) * 10 / 8}

	ref := sorted[sel.Sensor]
	o.Sensor = ref.Name
	if sel.Revolution < len(ref.Speed) {
		o.Speed = ref.Speed[sel.Revolution]
	}
	o.Rotor, o.Eccentricity = rotor(ref, sel.Revolution, o)
	o.Stator = stator(sorted, sel, o)
	return o, nil
}

func bounds(rs []core.TrackResult) (hi, lo float64, ok bool) {
	hi, lo = math.Inf(-1), math.Inf(1)
	for _, tr := range rs {
		for _, row := range tr.Data {
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				hi, lo, ok = math.Max(hi, v), math.Min(lo, v), true
			}
		}
	}
	return hi, lo, ok
}

func rotor(ref core.TrackResult, rev int, o Orbit) ([]Point, Eccentricity) {
	poles := len(ref.Data)
	pts := make([]Point, 0, poles+1)
	var xs, ys []float64
	for p := 0; p < poles; p++ {
		angle := float64(p) / float64(poles) * 360
		pt := polar(angle, o.Range*0.1+o.Max-ref.Data[p][rev])
		pts = append(pts, pt)
		if !math.IsNaN(pt.Radius) {
			xs, ys = append(xs, pt.X), append(ys, pt.Y)
		}
	}
	var ecc Eccentricity
	if len(xs) > 0 {
		ecc.X, ecc.Y = stat.Mean(xs, nil), stat.Mean(ys, nil)
		ecc.Magnitude = math.Hypot(ecc.X, ecc.Y)
	} else {
		ecc = Eccentricity{X: math.NaN(), Y: math.NaN(), Magnitude: math.NaN()}
	}
	if len(pts) > 0 {
		pts = append(pts, pts[0])
	}
	return pts, ecc
}

func stator(sorted []core.TrackResult, sel Selection, o Orbit) []Point {
	n := len(sorted)
	xp := make([]float64, n+1)
	yp := make([]float64, n+1)
	for i, tr := range sorted {
		xp[i] = tr.Angle
		yp[i] = tr.Data[sel.Pole][sel.Revolution]
	}
	xp[n], yp[n] = xp[0]+360, yp[0]
	gap := gapCurve(xp, yp)
	var pts []Point
	for i := 0; i < n; i++ {
		for a := xp[i]; a < xp[i+1]; a++ {
			pts = append(pts, polar(a, gap.Predict(a)-o.Min+o.Range))
		}
	}
	if len(pts) > 0 {
		pts = append(pts, pts[0])
	}
	return pts
}

// gapCurve fits the gap over ascending sensor angles. Predict holds the end
// values outside the fitted range. Sensors sharing an angle keep the first
// reading.
func gapCurve(xp, yp []float64) *interp.PiecewiseLinear {
	xs, ys := make([]float64, 0, len(xp)), make([]float64, 0, len(yp))
	for i, x := range xp {
		if len(xs) > 0 && x <= xs[len(xs)-1] {
			continue
		}
		xs, ys = append(xs, x), append(ys, yp[i])
	}
	var pl interp.PiecewiseLinear
	_ = pl.Fit(xs, ys) // xs is strictly increasing and holds at least two points
	return &pl
}

func polar(angleDeg, radius float64) Point {
	rad := angleDeg / 180 * math.Pi
	return Point{Angle: angleDeg, Radius: radius, X: math.Cos(rad) * radius, Y: math.Sin(rad) * radius}
}

// Extent returns the largest absolute coordinate across both polygons, for
// sizing a plot.
func (o Orbit) Extent() float64 {
	vals := make([]float64, 0, 2*(len(o.Rotor)+len(o.Stator)))
	for _, pts := range [][]Point{o.Rotor, o.Stator} {
		for _, p := range pts {
			if !math.IsNaN(p.X) && !math.IsNaN(p.Y) {
				vals = append(vals, math.Abs(p.X), math.Abs(p.Y))
			}
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return floats.Max(vals)
}
