package maps

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
	gmaps "googlemaps.github.io/maps"

	"github.com/zhouzirui/hangout/backend/internal/config"
	"github.com/zhouzirui/hangout/backend/internal/model/hangout"
	"github.com/zhouzirui/hangout/backend/internal/resilience"
)

const maxNearbyResults = 10

// API is the subset of the Google Maps client used here.
type API interface {
	Geocode(ctx context.Context, r *gmaps.GeocodingRequest) ([]gmaps.GeocodingResult, error)
	NearbySearch(ctx context.Context, r *gmaps.NearbySearchRequest) (gmaps.PlacesSearchResponse, error)
}

// Client resolves participant locations and finds venues around a point.
type Client struct {
	api           API
	guard         *resilience.Guard
	radius        uint
	nearbyEnabled bool
	logger        *zap.Logger
}

// New builds a client from configuration. It returns nil, nil when no API
// key is configured so callers can run without maps; check the client
// before storing it in an interface, since a nil *Client there is not a nil
// interface. orchestrator.New drops such values.
func New(cfg config.MapsConfig, guard *resilience.Guard, logger *zap.Logger) (*Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	api, err := gmaps.NewClient(gmaps.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return NewWithAPI(api, cfg, guard, logger), nil
}

// NewWithAPI wraps an existing API implementation.
func NewWithAPI(api API, cfg config.MapsConfig, guard *resilience.Guard, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	radius := cfg.NearbyRadius
	if radius == 0 {
		radius = 2000
	}
	return &Client{
		api:           api,
		guard:         guard,
		radius:        radius,
		nearbyEnabled: cfg.NearbyEnabled,
		logger:        logger.Named("maps"),
	}
}

type geocodeOutcome struct {
	result hangout.GeocodeResult
	found  bool
}

// Geocode resolves free-text address into a coordinate. It returns
// hangout.ErrNotFound when the address matches nothing and an
// hangout.ErrGeocoding-wrapped error for any other failure.
func (c *Client) Geocode(ctx context.Context, address string) (hangout.GeocodeResult, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return hangout.GeocodeResult{}, hangout.ErrNotFound
	}

	out, err := resilience.Run(ctx, c.guard, "geocode", hangout.ErrGeocoding, func(ctx context.Context) (geocodeOutcome, error) {
		results, err := c.api.Geocode(ctx, &gmaps.GeocodingRequest{Address: address})
		if err != nil {
			if isZeroResults(err) {
				return geocodeOutcome{}, nil
			}
			return geocodeOutcome{}, err
		}
		if len(results) == 0 {
			return geocodeOutcome{}, nil
		}
		return geocodeOutcome{result: toGeocodeResult(results[0], address), found: true}, nil
	})
	if err != nil {
		return hangout.GeocodeResult{}, err
	}
	if !out.found {
		return hangout.GeocodeResult{}, fmt.Errorf("%w: %q", hangout.ErrNotFound, address)
	}

	c.logger.Debug("geocoded address",
		zap.String("address", address),
		zap.String("formatted", out.result.FormattedAddress),
	)
	return out.result, nil
}

// NearbyVenues lists restaurants around center, best matches first.
func (c *Client) NearbyVenues(ctx context.Context, center hangout.Coordinate, keyword string) ([]hangout.Venue, error) {
	if !c.nearbyEnabled {
		return nil, nil
	}

	resp, err := resilience.Run(ctx, c.guard, "nearby_search", hangout.ErrGeocoding, func(ctx context.Context) (gmaps.PlacesSearchResponse, error) {
		resp, err := c.api.NearbySearch(ctx, &gmaps.NearbySearchRequest{
			Location: &gmaps.LatLng{Lat: center.Lat, Lng: center.Lng},
			Radius:   c.radius,
			Keyword:  strings.TrimSpace(keyword),
			Type:     gmaps.PlaceTypeRestaurant,
			Language: "en",
		})
		if err != nil && isZeroResults(err) {
			return gmaps.PlacesSearchResponse{}, nil
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	venues := make([]hangout.Venue, 0, min(len(resp.Results), maxNearbyResults))
	for _, place := range resp.Results {
		if len(venues) == maxNearbyResults {
			break
		}
		if place.Name == "" || place.PermanentlyClosed {
			continue
		}
		venues = append(venues, hangout.Venue{
			Name:      place.Name,
			Address:   firstNonEmpty(place.Vicinity, place.FormattedAddress),
			Rationale: describePlace(place),
		})
	}
	return venues, nil
}

// toGeocodeResult prefers a formatted address that names the neighbourhood.
func toGeocodeResult(r gmaps.GeocodingResult, fallback string) hangout.GeocodeResult {
	formatted := firstNonEmpty(r.FormattedAddress, fallback)

	for _, component := range r.AddressComponents {
		if slices.Contains(component.Types, "neighborhood") || slices.Contains(component.Types, "sublocality") {
			if component.LongName != "" && !strings.Contains(formatted, component.LongName) {
				formatted = component.LongName + ", " + formatted
			}
			break
		}
	}

	return hangout.GeocodeResult{
		Coordinate: hangout.Coordinate{
			Lat: r.Geometry.Location.Lat,
			Lng: r.Geometry.Location.Lng,
		},
		FormattedAddress: formatted,
	}
}

func describePlace(p gmaps.PlacesSearchResult) string {
	var parts []string
	if p.Rating > 0 {
		parts = append(parts, fmt.Sprintf("rated %.1f", p.Rating))
	}
	if p.PriceLevel > 0 {
		parts = append(parts, "price "+strings.Repeat("$", p.PriceLevel))
	}
	return strings.Join(parts, ", ")
}

func isZeroResults(err error) bool {
	return strings.Contains(err.Error(), "ZERO_RESULTS")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
