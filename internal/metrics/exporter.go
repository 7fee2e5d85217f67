package metrics

import (
	"time"

	"go.opencensus.io/stats/view"
	"go.uber.org/zap"
)

// LogExporter writes each reported view row to a zap logger at debug level.
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter constructs a LogExporter; a nil logger discards everything.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger}
}

// ExportView implements view.Exporter.
func (e *LogExporter) ExportView(data *view.Data) {
	if data == nil || data.View == nil {
		return
	}
	for _, row := range data.Rows {
		fields := []zap.Field{
			zap.String("view", data.View.Name),
			zap.Time("start", data.Start),
			zap.Time("end", data.End),
		}
		for _, t := range row.Tags {
			fields = append(fields, zap.String(t.Key.Name(), t.Value))
		}
		switch value := row.Data.(type) {
		case *view.CountData:
			fields = append(fields, zap.Int64("count", value.Value))
		case *view.SumData:
			fields = append(fields, zap.Float64("sum", value.Value))
		case *view.LastValueData:
			fields = append(fields, zap.Float64("last", value.Value))
		case *view.DistributionData:
			fields = append(fields,
				zap.Int64("count", value.Count),
				zap.Float64("mean", value.Mean),
				zap.Float64("max", value.Max))
		}
		e.logger.Debug("metrics view", fields...)
	}
}

// Register registers DefaultViews and the exporter with the opencensus runtime.
// The returned function unregisters both.
func Register(logger *zap.Logger, period time.Duration) (func(), error) {
	if err := view.Register(DefaultViews...); err != nil {
		return nil, err
	}
	exporter := NewLogExporter(logger)
	view.RegisterExporter(exporter)
	if period > 0 {
		view.SetReportingPeriod(period)
	}
	return func() {
		view.UnregisterExporter(exporter)
		view.Unregister(DefaultViews...)
	}, nil
}
