// Package routing adapts Google Maps Platform to the route and travel time
// shapes the dispatch core consumes.
package routing

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"googlemaps.github.io/maps"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
)

// GoogleProvider fetches driving routes from the Directions API.
type GoogleProvider struct {
	client *maps.Client
	region string
}

// NewGoogleClient creates a Maps client for apiKey.
func NewGoogleClient(apiKey string) (*maps.Client, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// NewGoogleProvider creates a route provider biased towards region.
func NewGoogleProvider(client *maps.Client, region string) *GoogleProvider {
	return &GoogleProvider{client: client, region: region}
}

// Route returns the driving route between origin and destination. It returns
// nil, nil when the API finds no route.
func (p *GoogleProvider) Route(ctx context.Context, origin, destination geo.Point) (domain.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      formatPoint(origin),
		Destination: formatPoint(destination),
		Mode:        maps.TravelModeDriving,
		Region:      p.region,
	}

	routes, _, err := p.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 {
		return nil, nil
	}
	return decodeRoute(routes[0])
}

// decodeRoute concatenates the step polylines of every leg, which are far
// denser than the overview polyline. The overview is used when a route
// carries no steps.
func decodeRoute(route maps.Route) (domain.Route, error) {
	var out domain.Route
	for _, leg := range route.Legs {
		if leg == nil {
			continue
		}
		for _, step := range leg.Steps {
			if step == nil {
				continue
			}
			pts, err := step.Polyline.Decode()
			if err != nil {
				return nil, fmt.Errorf("failed to decode step polyline: %w", err)
			}
			out = appendPath(out, pts)
		}
	}
	if len(out) > 0 {
		return out, nil
	}

	if route.OverviewPolyline.Points == "" {
		return nil, nil
	}
	pts, err := route.OverviewPolyline.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode overview polyline: %w", err)
	}
	return appendPath(nil, pts), nil
}

// appendPath appends pts, skipping a first point equal to the current tail
// since consecutive steps share their junction.
func appendPath(route domain.Route, pts []maps.LatLng) domain.Route {
	for i, ll := range pts {
		pt := geo.Point{Lat: ll.Lat, Lng: ll.Lng}
		if i == 0 && len(route) > 0 && samePoint(route[len(route)-1], pt) {
			continue
		}
		route = append(route, pt)
	}
	return route
}

// samePoint treats points closer than polyline precision as equal.
func samePoint(a, b geo.Point) bool {
	return math.Abs(a.Lat-b.Lat) < 1e-7 && math.Abs(a.Lng-b.Lng) < 1e-7
}

func formatPoint(p geo.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
