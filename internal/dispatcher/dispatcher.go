// Package dispatcher bridges the job queue to the ingestion pipeline. It
// processes exactly one message at a time: decode, run the pipeline, publish
// a summary, then settle the message. Any failure before the summary step
// abandons the message so the queue redelivers it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-kit/kit/metrics"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/feedpoint/harvester/internal/configuration"
	"github.com/feedpoint/harvester/internal/pipeline"
	"github.com/feedpoint/harvester/internal/queue"
)

var (
	_metricJobs = kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace:   configuration.MetricNamespace,
		ConstLabels: configuration.MetricPrometheusLabels,
		Name:        "dispatcher_jobs_total",
		Help:        "Jobs processed by the dispatcher, by settlement status",
	}, []string{"status"})

	_metricRecords = kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace:   configuration.MetricNamespace,
		ConstLabels: configuration.MetricPrometheusLabels,
		Name:        "dispatcher_records_fetched_total",
		Help:        "Records fetched by successfully completed jobs",
	}, []string{})

	_metricReceiveErrors = kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
		Namespace:   configuration.MetricNamespace,
		ConstLabels: configuration.MetricPrometheusLabels,
		Name:        "dispatcher_receive_errors_total",
		Help:        "Queue receive errors survived by the listener loop",
	}, []string{})
)

// RunFunc executes one ingestion run. It exists so tests can substitute the
// pipeline.
type RunFunc func(configPath string, sourceID int, runCtx map[string]interface{}) (pipeline.Result, error)

// Options configure a Dispatcher.
type Options struct {
	// InputQueue is the queue the listener consumes jobs from.
	InputQueue string

	// OutputQueue is the default summary destination. Empty disables
	// summary publication unless a message overrides it.
	OutputQueue string

	// MaxWait bounds each receive poll.
	MaxWait time.Duration

	// ListenDuration bounds the whole listen loop. Zero listens forever.
	ListenDuration time.Duration
}

// Dispatcher consumes job messages and reports outcomes. One instance runs
// one job at a time; scale out with more dispatcher processes, not threads.
type Dispatcher struct {
	queues         queue.Client
	inputQueue     string
	outputQueue    string
	maxWait        time.Duration
	listenDuration time.Duration

	run RunFunc

	metricJobs          metrics.Counter
	metricRecords       metrics.Counter
	metricReceiveErrors metrics.Counter
}

// NewDispatcher returns a Dispatcher bound to an explicitly owned queue client.
func NewDispatcher(queues queue.Client, options Options) *Dispatcher {
	if options.MaxWait <= 0 {
		options.MaxWait = 5 * time.Second
	}
	return &Dispatcher{
		queues:              queues,
		inputQueue:          options.InputQueue,
		outputQueue:         options.OutputQueue,
		maxWait:             options.MaxWait,
		listenDuration:      options.ListenDuration,
		run:                 pipeline.Run,
		metricJobs:          _metricJobs,
		metricRecords:       _metricRecords,
		metricReceiveErrors: _metricReceiveErrors,
	}
}

// Listen consumes the input queue until the context is cancelled or the
// configured listen duration elapses. Receive errors are logged and the loop
// continues: transient broker hiccups must not kill the process.
func (d *Dispatcher) Listen(ctx context.Context) error {
	receiver, err := d.queues.Receiver(d.inputQueue)
	if err != nil {
		return fmt.Errorf("open receiver on %s: %w", d.inputQueue, err)
	}
	defer receiver.Close(context.Background())

	var deadline time.Time
	if d.listenDuration > 0 {
		deadline = time.Now().Add(d.listenDuration)
	}

	zap.L().Info("Listening on queue",
		zap.String("queue", d.inputQueue),
		zap.Duration("max_wait", d.maxWait),
		zap.Duration("listen_duration", d.listenDuration),
	)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("Interrupted, stopping listener", zap.String("queue", d.inputQueue))
			return nil
		default:
		}

		if !deadline.IsZero() && !time.Now().Before(deadline) {
			zap.L().Info("Listen duration elapsed, stopping listener",
				zap.String("queue", d.inputQueue),
				zap.Duration("listen_duration", d.listenDuration),
			)
			d.publishListenTimeout(ctx)
			return nil
		}

		wait := d.maxWait
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}

		msg, err := receiver.Receive(ctx, wait)
		if err != nil {
			if ctx.Err() != nil {
				zap.L().Info("Interrupted, stopping listener", zap.String("queue", d.inputQueue))
				return nil
			}
			zap.L().Error("Queue receive", zap.String("queue", d.inputQueue), zap.Error(err))
			d.metricReceiveErrors.Add(1)
			continue
		}
		if msg == nil {
			continue
		}

		if err := d.handleMessage(ctx, msg.Body); err != nil {
			zap.L().Error("Message processing failed", zap.String("queue", d.inputQueue), zap.Error(err))
			d.metricJobs.With("status", "abandoned").Add(1)
			if err := receiver.Abandon(ctx, msg); err != nil {
				zap.L().Error("Abandon message", zap.Error(err))
			}
			continue
		}

		if err := receiver.Complete(ctx, msg); err != nil {
			zap.L().Error("Complete message", zap.Error(err))
		}
		d.metricJobs.With("status", "completed").Add(1)
	}
}

// handleMessage runs one job end to end. A returned error means the caller
// must abandon the message; summary publication failures are not such errors
// because the ingestion itself already succeeded.
func (d *Dispatcher) handleMessage(ctx context.Context, body []byte) error {
	var payload map[string]interface{}
	if err := jsoniter.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}

	configRef, ok := payload["config"].(string)
	if !ok || configRef == "" {
		return errors.New("job payload must include 'config' and 'source_id'")
	}
	rawID, ok := payload["source_id"]
	if !ok {
		return errors.New("job payload must include 'config' and 'source_id'")
	}
	sourceID, err := coerceSourceID(rawID)
	if err != nil {
		return err
	}

	requestID, _ := payload["request_id"].(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	runCtx := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		if key == "config" || key == "source_id" {
			continue
		}
		runCtx[key] = value
	}
	runCtx["request_id"] = requestID

	zap.L().Info("Dispatching job",
		zap.String("request_id", requestID),
		zap.Int("source_id", sourceID),
		zap.String("config", configRef),
	)

	result, err := d.run(configRef, sourceID, runCtx)
	if err != nil {
		return fmt.Errorf("run source %d: %w", sourceID, err)
	}
	d.metricRecords.Add(float64(result.Total))

	zap.L().Info("Job completed",
		zap.String("request_id", requestID),
		zap.Int("total", result.Total),
		zap.Float64("elapsed_seconds", result.ElapsedSeconds),
	)

	outputQueue := d.outputQueue
	if override, ok := payload["output_queue"].(string); ok && override != "" {
		outputQueue = override
	}
	if outputQueue != "" {
		d.publishSummary(ctx, outputQueue, map[string]interface{}{
			"request_id":      requestID,
			"config":          configRef,
			"source_id":       sourceID,
			"total":           result.Total,
			"elapsed_seconds": result.ElapsedSeconds,
			"sample":          result.Sample,
			"response_fields": result.ResponseFields,
		})
	}
	return nil
}

// publishSummary sends a summary payload, swallowing failures: a lost summary
// must never cause a successfully ingested message to be reprocessed.
func (d *Dispatcher) publishSummary(ctx context.Context, queueName string, summary map[string]interface{}) {
	body, err := jsoniter.Marshal(summary)
	if err != nil {
		zap.L().Error("Encode summary", zap.Error(err))
		return
	}
	if err := d.queues.Send(ctx, queueName, body); err != nil {
		zap.L().Error("Send summary", zap.String("queue", queueName), zap.Error(err))
		return
	}
	zap.L().Info("Summary sent", zap.String("queue", queueName))
}

func (d *Dispatcher) publishListenTimeout(ctx context.Context) {
	if d.outputQueue == "" {
		return
	}
	d.publishSummary(ctx, d.outputQueue, map[string]interface{}{
		"reason":                  "listen_timeout",
		"queue":                   d.inputQueue,
		"listen_duration_seconds": d.listenDuration.Seconds(),
	})
}

func coerceSourceID(raw interface{}) (int, error) {
	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		id, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("'source_id' must be an integer, got %q", v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("'source_id' must be an integer, got %T", raw)
	}
}
