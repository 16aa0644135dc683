package geo

import (
	"math"
	"testing"
)

func TestDistance_KnownValues(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		p1, p2  Point
		wantMin float64
		wantMax float64
	}{
		{
			name:    "identical points",
			p1:      Point{Lat: 12.9716, Lng: 77.5946},
			p2:      Point{Lat: 12.9716, Lng: 77.5946},
			wantMin: 0,
			wantMax: 0,
		},
		{
			name:    "one degree of latitude",
			p1:      Point{Lat: 0, Lng: 0},
			p2:      Point{Lat: 1, Lng: 0},
			wantMin: 111194,
			wantMax: 111196,
		},
		{
			name:    "driver to pickup across town",
			p1:      Point{Lat: 12.90, Lng: 77.60},
			p2:      Point{Lat: 12.91, Lng: 77.61},
			wantMin: 1500,
			wantMax: 1600,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Distance(tc.p1, tc.p2)
			if got < tc.wantMin || got > tc.wantMax {
				t.Errorf("expected distance in [%.1f, %.1f], got %.3f", tc.wantMin, tc.wantMax, got)
			}
		})
	}
}

func TestDistance_Symmetric(t *testing.T) {
	t.Parallel()

	a := Point{Lat: 28.6139, Lng: 77.2090}
	b := Point{Lat: 19.0760, Lng: 72.8777}

	if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-6 {
		t.Errorf("expected symmetric distance, got %.6f and %.6f", d1, d2)
	}
	if Distance(a, b) <= 0 {
		t.Error("expected positive distance for distinct points")
	}
}

func TestDistanceKm(t *testing.T) {
	t.Parallel()

	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 0, Lng: 1}
	if got, want := DistanceKm(a, b), Distance(a, b)/1000; got != want {
		t.Errorf("expected %.6f km, got %.6f", want, got)
	}
}

func TestDistanceToSegment(t *testing.T) {
	t.Parallel()

	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 0, Lng: 1}

	testCases := []struct {
		name string
		p    Point
		a, b Point
		want float64
		tol  float64
	}{
		{
			name: "point on the segment",
			p:    Point{Lat: 0, Lng: 0.5},
			a:    a, b: b,
			want: 0,
			tol:  0.01,
		},
		{
			name: "perpendicular offset from the middle",
			p:    Point{Lat: 0.001, Lng: 0.5},
			a:    a, b: b,
			want: 111.19,
			tol:  0.05,
		},
		{
			name: "beyond the end clamps to the endpoint",
			p:    Point{Lat: 0, Lng: 1.001},
			a:    a, b: b,
			want: Distance(Point{Lat: 0, Lng: 1.001}, b),
			tol:  0.01,
		},
		{
			name: "before the start clamps to the start",
			p:    Point{Lat: 0.001, Lng: -0.001},
			a:    a, b: b,
			want: Distance(Point{Lat: 0.001, Lng: -0.001}, a),
			tol:  0.01,
		},
		{
			name: "degenerate segment falls back to point distance",
			p:    Point{Lat: 12.905, Lng: 77.605},
			a:    Point{Lat: 12.904, Lng: 77.604},
			b:    Point{Lat: 12.904, Lng: 77.604},
			want: Distance(Point{Lat: 12.905, Lng: 77.605}, Point{Lat: 12.904, Lng: 77.604}),
			tol:  1e-9,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DistanceToSegment(tc.p, tc.a, tc.b)
			if math.Abs(got-tc.want) > tc.tol {
				t.Errorf("expected %.3f m, got %.3f m", tc.want, got)
			}
		})
	}
}

func TestDistanceToSegment_NeverExceedsEndpointDistance(t *testing.T) {
	t.Parallel()

	p := Point{Lat: 12.905, Lng: 77.605}
	a := Point{Lat: 12.90, Lng: 77.60}
	b := Point{Lat: 12.91, Lng: 77.62}

	d := DistanceToSegment(p, a, b)
	if d > Distance(p, a)+1e-6 || d > Distance(p, b)+1e-6 {
		t.Errorf("segment distance %.3f exceeds an endpoint distance", d)
	}
}

func TestSample(t *testing.T) {
	t.Parallel()

	route := func(n int) []Point {
		pts := make([]Point, n)
		for i := range pts {
			pts[i] = Point{Lat: float64(i), Lng: float64(i)}
		}
		return pts
	}

	testCases := []struct {
		name    string
		n       int
		stride  int
		wantLen int
		wantLat []float64
	}{
		{name: "empty route", n: 0, stride: 5, wantLen: 0},
		{name: "single point", n: 1, stride: 5, wantLen: 1, wantLat: []float64{0}},
		{name: "last point lands on stride", n: 11, stride: 5, wantLen: 3, wantLat: []float64{0, 5, 10}},
		{name: "last point appended", n: 12, stride: 5, wantLen: 4, wantLat: []float64{0, 5, 10, 11}},
		{name: "stride of one keeps everything", n: 4, stride: 1, wantLen: 4},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Sample(route(tc.n), tc.stride)
			if len(got) != tc.wantLen {
				t.Fatalf("expected %d points, got %d", tc.wantLen, len(got))
			}
			for i, lat := range tc.wantLat {
				if got[i].Lat != lat {
					t.Errorf("point %d: expected lat %.0f, got %.0f", i, lat, got[i].Lat)
				}
			}
		})
	}
}

func TestMinDistanceToPath(t *testing.T) {
	t.Parallel()

	if _, ok := MinDistanceToPath(Point{}, nil); ok {
		t.Error("expected ok=false for empty path")
	}

	single := []Point{{Lat: 0, Lng: 1}}
	d, ok := MinDistanceToPath(Point{}, single)
	if !ok {
		t.Fatal("expected ok=true for single point path")
	}
	if want := Distance(Point{}, single[0]); math.Abs(d-want) > 1e-9 {
		t.Errorf("expected %.3f, got %.3f", want, d)
	}

	path := []Point{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}}
	d, _ = MinDistanceToPath(Point{Lat: 0.5, Lng: 1}, path)
	if d > 0.01 {
		t.Errorf("expected point on second segment to be ~0 m away, got %.3f", d)
	}
}

func TestPointValid(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		p    Point
		want bool
	}{
		{name: "valid", p: Point{Lat: 12.9716, Lng: 77.5946}, want: true},
		{name: "max corners", p: Point{Lat: 90, Lng: 180}, want: true},
		{name: "min corners", p: Point{Lat: -90, Lng: -180}, want: true},
		{name: "latitude too high", p: Point{Lat: 91, Lng: 0}, want: false},
		{name: "longitude too low", p: Point{Lat: 0, Lng: -181}, want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.p.Valid(); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
