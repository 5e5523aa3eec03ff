package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

const instrumentationName = "github.com/fyrsmithlabs/seagent/internal/workflows"

var (
	activityDuration     metric.Float64Histogram
	activityErrorCounter metric.Int64Counter
)

// initMetrics creates the activity instruments on the global meter provider.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	activityDuration, err = meter.Float64Histogram(
		"seagent.workflows.activity.duration",
		metric.WithDescription("Duration of onboarding stage activities"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity duration: %v", err))
	}

	activityErrorCounter, err = meter.Int64Counter(
		"seagent.workflows.activity.errors",
		metric.WithDescription("Number of failed onboarding stage activities"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create activity error counter: %v", err))
	}
}

func init() {
	initMetrics()
}

func recordActivity(ctx context.Context, stage string, d time.Duration, err error) {
	stageAttr := attribute.String("stage", stage)
	activityDuration.Record(ctx, d.Seconds(), metric.WithAttributes(stageAttr))
	if err != nil {
		activityErrorCounter.Add(ctx, 1, metric.WithAttributes(stageAttr,
			attribute.String("kind", string(runtime.KindOf(err)))))
	}
}
