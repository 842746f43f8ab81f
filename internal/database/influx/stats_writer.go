package influx

import (
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"rtls-stream/internal/models"
)

// StatsWriter records throughput and health numbers for the tag stream.
// Tag positions and histories are never written here; only aggregates are.
type StatsWriter struct {
	writeAPI api.WriteAPI
	logger   zerolog.Logger
}

func NewStatsWriter(writeAPI api.WriteAPI, logger zerolog.Logger) *StatsWriter {
	return &StatsWriter{
		writeAPI: writeAPI,
		logger:   logger,
	}
}

func (w *StatsWriter) WriteStats(stats models.TagStats) error {
	point := influxdb2.NewPoint(
		"tag_stats",
		stats.ToInfluxTags(),
		stats.ToInfluxFields(),
		stats.ComputedAt,
	)

	w.writeAPI.WritePoint(point)

	w.logger.Debug().
		Int("total_tags", stats.TotalTags).
		Float64("update_rate", stats.UpdateRate).
		Msg("Wrote tag stats point")

	return nil
}
