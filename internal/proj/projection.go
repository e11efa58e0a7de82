package proj

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Projection converts between geographic degrees and projected coordinates.
type Projection interface {
	Forward(lon, lat float64) (x, y float64, err error)
	Inverse(x, y float64) (lon, lat float64, err error)
}

var errOutOfDomain = errors.New("coordinate outside projection domain")

func newProjection(p params) (Projection, error) {
	if err := p.checkUnits(); err != nil {
		return nil, err
	}
	switch p["proj"] {
	case "longlat", "latlong", "lonlat", "latlon":
		return longLat{}, nil
	case "merc":
		return newMercator(p)
	case "utm":
		return newUTM(p)
	case "tmerc":
		return newTransverseMercator(p)
	default:
		return nil, fmt.Errorf("unsupported projection %q", p["proj"])
	}
}

type longLat struct{}

func (longLat) Forward(lon, lat float64) (float64, float64, error) { return lon, lat, nil }
func (longLat) Inverse(x, y float64) (float64, float64, error)     { return x, y, nil }

// webMercator is the EPSG:3857 sphere with no offsets, delegated to orb.
type webMercator struct{}

func (webMercator) Forward(lon, lat float64) (float64, float64, error) {
	if lat <= -90 || lat >= 90 {
		return 0, 0, errOutOfDomain
	}
	p := project.WGS84.ToMercator(orb.Point{lon, lat})
	return p[0], p[1], nil
}

func (webMercator) Inverse(x, y float64) (float64, float64, error) {
	p := project.Mercator.ToWGS84(orb.Point{x, y})
	return p[0], p[1], nil
}

// mercator is the general (ellipsoidal) normal Mercator projection.
type mercator struct {
	a, e   float64
	k0     float64
	lon0   float64
	x0, y0 float64
}

func newMercator(p params) (Projection, error) {
	el, err := p.ellipsoid()
	if err != nil {
		return nil, err
	}
	latTS, err := p.float("lat_ts", 0)
	if err != nil {
		return nil, err
	}
	k, err := p.float("k", 1)
	if err != nil {
		return nil, err
	}
	if p.has("k_0") {
		if k, err = p.float("k_0", 1); err != nil {
			return nil, err
		}
	}
	lon0, err := p.float("lon_0", 0)
	if err != nil {
		return nil, err
	}
	x0, err := p.float("x_0", 0)
	if err != nil {
		return nil, err
	}
	y0, err := p.float("y_0", 0)
	if err != nil {
		return nil, err
	}

	if el.F == 0 && el.A == 6378137 && latTS == 0 && k == 1 && lon0 == 0 && x0 == 0 && y0 == 0 {
		return webMercator{}, nil
	}

	e2 := el.E2()
	k0 := k
	if latTS != 0 {
		phi := deg2rad(latTS)
		k0 = math.Cos(phi) / math.Sqrt(1-e2*math.Sin(phi)*math.Sin(phi))
	}
	return &mercator{a: el.A, e: math.Sqrt(e2), k0: k0, lon0: deg2rad(lon0), x0: x0, y0: y0}, nil
}

func (m *mercator) Forward(lon, lat float64) (float64, float64, error) {
	if lat <= -90 || lat >= 90 {
		return 0, 0, errOutOfDomain
	}
	phi := deg2rad(lat)
	lam := deg2rad(lon) - m.lon0
	es := m.e * math.Sin(phi)
	x := m.x0 + m.a*m.k0*lam
	y := m.y0 + m.a*m.k0*math.Log(math.Tan(math.Pi/4+phi/2)*math.Pow((1-es)/(1+es), m.e/2))
	return x, y, nil
}

func (m *mercator) Inverse(x, y float64) (float64, float64, error) {
	t := math.Exp(-(y - m.y0) / (m.a * m.k0))
	phi := math.Pi/2 - 2*math.Atan(t)
	for range 15 {
		es := m.e * math.Sin(phi)
		next := math.Pi/2 - 2*math.Atan(t*math.Pow((1-es)/(1+es), m.e/2))
		if math.Abs(next-phi) < 1e-12 {
			phi = next
			break
		}
		phi = next
	}
	lam := (x-m.x0)/(m.a*m.k0) + m.lon0
	return rad2deg(lam), rad2deg(phi), nil
}

// transverseMercator implements the Snyder series used for UTM.
type transverseMercator struct {
	a, e2, ep2 float64
	k0         float64
	lat0, lon0 float64
	x0, y0     float64
	m0         float64
}

func newUTM(p params) (Projection, error) {
	zone, err := strconv.Atoi(p["zone"])
	if err != nil || zone < 1 || zone > 60 {
		return nil, fmt.Errorf("invalid utm +zone %q", p["zone"])
	}
	el, err := p.ellipsoid()
	if err != nil {
		return nil, err
	}
	y0 := 0.0
	if p.has("south") {
		y0 = 10000000
	}
	lon0 := float64(zone-1)*6 - 180 + 3
	return newTM(el, 0.9996, 0, lon0, 500000, y0), nil
}

func newTransverseMercator(p params) (Projection, error) {
	el, err := p.ellipsoid()
	if err != nil {
		return nil, err
	}
	k, err := p.float("k", 1)
	if err != nil {
		return nil, err
	}
	if p.has("k_0") {
		if k, err = p.float("k_0", 1); err != nil {
			return nil, err
		}
	}
	lat0, err := p.float("lat_0", 0)
	if err != nil {
		return nil, err
	}
	lon0, err := p.float("lon_0", 0)
	if err != nil {
		return nil, err
	}
	x0, err := p.float("x_0", 0)
	if err != nil {
		return nil, err
	}
	y0, err := p.float("y_0", 0)
	if err != nil {
		return nil, err
	}
	return newTM(el, k, lat0, lon0, x0, y0), nil
}

func newTM(el Ellipsoid, k0, lat0, lon0, x0, y0 float64) *transverseMercator {
	e2 := el.E2()
	tm := &transverseMercator{
		a:    el.A,
		e2:   e2,
		ep2:  e2 / (1 - e2),
		k0:   k0,
		lat0: deg2rad(lat0),
		lon0: deg2rad(lon0),
		x0:   x0,
		y0:   y0,
	}
	tm.m0 = tm.meridianArc(tm.lat0)
	return tm
}

func (tm *transverseMercator) meridianArc(phi float64) float64 {
	e2 := tm.e2
	e4 := e2 * e2
	e6 := e4 * e2
	return tm.a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (tm *transverseMercator) Forward(lon, lat float64) (float64, float64, error) {
	if lat < -90 || lat > 90 {
		return 0, 0, errOutOfDomain
	}
	phi := deg2rad(lat)
	dlam := deg2rad(lon) - tm.lon0
	// the series diverges far from the central meridian
	if math.Abs(dlam) > deg2rad(45) {
		return 0, 0, errOutOfDomain
	}

	sinPhi, cosPhi, tanPhi := math.Sin(phi), math.Cos(phi), math.Tan(phi)
	n := tm.a / math.Sqrt(1-tm.e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := tm.ep2 * cosPhi * cosPhi
	a := dlam * cosPhi
	m := tm.meridianArc(phi)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x := tm.x0 + tm.k0*n*(a+(1-t+c)*a3/6+(5-18*t+t*t+72*c-58*tm.ep2)*a5/120)
	y := tm.y0 + tm.k0*(m-tm.m0+n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*tm.ep2)*a6/720))
	return x, y, nil
}

func (tm *transverseMercator) Inverse(x, y float64) (float64, float64, error) {
	e2 := tm.e2
	e4 := e2 * e2
	e6 := e4 * e2

	m := tm.m0 + (y-tm.y0)/tm.k0
	mu := m / (tm.a * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)

	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1, tanPhi1 := math.Sin(phi1), math.Cos(phi1), math.Tan(phi1)
	c1 := tm.ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	den := 1 - e2*sinPhi1*sinPhi1
	n1 := tm.a / math.Sqrt(den)
	r1 := tm.a * (1 - e2) / math.Pow(den, 1.5)
	d := (x - tm.x0) / (n1 * tm.k0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*tanPhi1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*tm.ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*tm.ep2-3*c1*c1)*d6/720)
	lam := tm.lon0 + (d-(1+2*t1+c1)*d3/6+(5-2*c1+28*t1-3*c1*c1+8*tm.ep2+24*t1*t1)*d5/120)/cosPhi1

	return rad2deg(lam), rad2deg(phi), nil
}
