package metrics

import (
	"time"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Keys
var (
	Outcome, _ = tag.NewKey("outcome")
)

// Measures
var (
	DropsCreated  = stats.Int64("deaddrop/drops_created", "Number of drops persisted", stats.UnitDimensionless)
	Pickups       = stats.Int64("deaddrop/pickups", "Number of pickup attempts by outcome", stats.UnitDimensionless)
	FormKeys      = stats.Int64("deaddrop/form_keys", "Number of form keys issued", stats.UnitDimensionless)
	StorageErrors = stats.Int64("deaddrop/storage_errors", "Number of operations failed by the backend", stats.UnitDimensionless)

	PickupLatency = stats.Float64("deaddrop/pickup_latency", "Time spent consuming a drop", stats.UnitMilliseconds)
	StatsLatency  = stats.Float64("deaddrop/stats_latency", "Time spent aggregating the track ledger", stats.UnitMilliseconds)
)

// Views
var (
	dropsCreatedView = &view.View{
		Name:        "deaddrop/drops_created",
		Measure:     DropsCreated,
		Aggregation: view.Count(),
	}
	pickupsView = &view.View{
		Name:        "deaddrop/pickups",
		Measure:     Pickups,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	}
	formKeysView = &view.View{
		Name:        "deaddrop/form_keys",
		Measure:     FormKeys,
		Aggregation: view.Count(),
	}
	storageErrorsView = &view.View{
		Name:        "deaddrop/storage_errors",
		Measure:     StorageErrors,
		Aggregation: view.Count(),
	}
	pickupLatencyView = &view.View{
		Name:        "deaddrop/pickup_latency",
		Measure:     PickupLatency,
		Aggregation: view.Distribution(0, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000),
	}
	statsLatencyView = &view.View{
		Name:        "deaddrop/stats_latency",
		Measure:     StatsLatency,
		Aggregation: view.Distribution(0, 10, 50, 100, 200, 500, 1000, 2000, 5000, 10_000, 30_000),
	}
)

// DefaultViews with all views in it.
var DefaultViews = []*view.View{
	dropsCreatedView,
	pickupsView,
	formKeysView,
	storageErrorsView,
	pickupLatencyView,
	statsLatencyView,
}

func MsecSince(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}
