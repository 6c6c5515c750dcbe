package imagegenerator

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

type generatorMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupGeneratorMetrics(meter metric.Meter, prefix string) (generatorMetricsCollection, error) {
	requestCount, err := meter.Int64Counter(prefix + "/request_count")
	if err != nil {
		return generatorMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	return generatorMetricsCollection{
		requestCount: requestCount,
	}, nil
}
