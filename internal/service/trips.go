package service

import (
	"context"
	"fmt"
	"log/slog"

	"busline/internal/models"
	"busline/internal/search"
)

// TripService serves the trip lookup the booking flow starts from.
// Elasticsearch answers searches when configured; the Postgres catalog is
// the fallback and the source of truth either way.
type TripService struct {
	search   *search.Client
	searcher TripSearcher
}

func (s *TripService) List(ctx context.Context, query, date string, page, pageSize int) (models.ListTripsResponse, error) {
	var trips []models.Trip
	var err error

	if s.search != nil {
		trips, err = s.search.Search(ctx, query, date, page, pageSize)
		if err != nil {
			slog.Warn("Elasticsearch trip search failed, falling back to database",
				"error", err, "query", query)
			trips = nil
		}
	}
	if trips == nil {
		trips, err = s.searcher.Search(ctx, query, date, page, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to search trips: %w", err)
		}
	}

	result := make(models.ListTripsResponse, len(trips))
	for i, trip := range trips {
		result[i] = models.ListTripsResponseItem{
			ID:          trip.ID,
			RouteName:   trip.RouteName,
			CompanyName: trip.CompanyName,
			DepartureAt: trip.DepartureAt,
			TotalSeats:  trip.TotalSeats,
		}
	}
	return result, nil
}
