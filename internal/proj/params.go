package proj

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Ellipsoid is defined by its semi-major axis and flattening.
type Ellipsoid struct {
	A float64
	F float64
}

func (e Ellipsoid) E2() float64 { return e.F * (2 - e.F) }

var ellipsoids = map[string]Ellipsoid{
	"WGS84":  {A: 6378137, F: 1 / 298.257223563},
	"GRS80":  {A: 6378137, F: 1 / 298.257222101},
	"intl":   {A: 6378388, F: 1 / 297.0},
	"bessel": {A: 6377397.155, F: 1 / 299.1528128},
	"clrk66": {A: 6378206.4, F: 1 / 294.9786982},
}

var datums = map[string]string{
	"WGS84": "WGS84",
	"NAD83": "GRS80",
}

// params holds the "+key=value" and "+flag" tokens of a PROJ.4 string.
type params map[string]string

func parseParams(def string) (params, error) {
	p := params{}
	for tok := range strings.FieldsSeq(def) {
		if !strings.HasPrefix(tok, "+") {
			return nil, fmt.Errorf("parameter %q must start with '+'", tok)
		}
		tok = tok[1:]
		k, v, _ := strings.Cut(tok, "=")
		if k == "" {
			return nil, fmt.Errorf("empty parameter name in %q", def)
		}
		p[k] = v
	}
	if p["proj"] == "" {
		return nil, fmt.Errorf("missing +proj in %q", def)
	}
	return p, nil
}

func (p params) has(k string) bool {
	_, ok := p[k]
	return ok
}

func (p params) float(k string, def float64) (float64, error) {
	v, ok := p[k]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("+%s: %w", k, err)
	}
	return f, nil
}

func (p params) ellipsoid() (Ellipsoid, error) {
	e := ellipsoids["WGS84"]
	if d, ok := p["datum"]; ok {
		name, known := datums[d]
		if !known {
			return Ellipsoid{}, fmt.Errorf("unsupported datum %q", d)
		}
		e = ellipsoids[name]
	}
	if name, ok := p["ellps"]; ok {
		known, ok := ellipsoids[name]
		if !ok {
			return Ellipsoid{}, fmt.Errorf("unsupported ellipsoid %q", name)
		}
		e = known
	}
	if p.has("a") {
		a, err := p.float("a", e.A)
		if err != nil {
			return Ellipsoid{}, err
		}
		e.A = a
		switch {
		case p.has("b"):
			b, err := p.float("b", a)
			if err != nil {
				return Ellipsoid{}, err
			}
			e.F = (a - b) / a
		case p.has("rf"):
			rf, err := p.float("rf", 0)
			if err != nil {
				return Ellipsoid{}, err
			}
			if rf == 0 {
				e.F = 0
			} else {
				e.F = 1 / rf
			}
		}
	}
	if e.A <= 0 || e.F < 0 || e.F >= 1 {
		return Ellipsoid{}, fmt.Errorf("invalid ellipsoid a=%v f=%v", e.A, e.F)
	}
	return e, nil
}

func (p params) checkUnits() error {
	if u, ok := p["units"]; ok && u != "m" && u != "degrees" {
		return fmt.Errorf("unsupported units %q", u)
	}
	return nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }
