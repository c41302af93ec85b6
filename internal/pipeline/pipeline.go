// Package pipeline drives one ingestion run: it loads the source definition
// set, resolves the requested source, then walks the transport, mapper and
// sink across one page or a bounded sequence of pages.
package pipeline

import (
	"fmt"
	"time"

	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	jsoniter "github.com/json-iterator/go"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/feedpoint/harvester/internal/config"
	"github.com/feedpoint/harvester/internal/configuration"
	"github.com/feedpoint/harvester/internal/mapper"
	"github.com/feedpoint/harvester/internal/metadata"
	"github.com/feedpoint/harvester/internal/sink"
	"github.com/feedpoint/harvester/internal/transport"
)

var _metricPagesFetched = kitprometheus.NewCounterFrom(stdprometheus.CounterOpts{
	Namespace:   configuration.MetricNamespace,
	ConstLabels: configuration.MetricPrometheusLabels,
	Name:        "pipeline_pages_fetched_total",
	Help:        "Pages fetched per source, empty terminating pages included",
}, []string{"source"})

// Result is the structured outcome of one run. ResponseFields is nil when the
// source declares no response spec or when no page produced rows.
type Result struct {
	Total          int                    `json:"total"`
	ElapsedSeconds float64                `json:"elapsed_seconds"`
	Sample         map[string]interface{} `json:"sample"`
	ResponseFields map[string]interface{} `json:"response_fields"`
}

// Run loads the configuration at configPath, resolves sourceID and executes
// the source's fetch/map/write cycle with the given runtime context.
// The definition set is loaded fresh on every run.
func Run(configPath string, sourceID int, runCtx map[string]interface{}) (Result, error) {
	start := time.Now()

	app, err := config.Load(configPath)
	if err != nil {
		return Result{}, err
	}
	src, err := app.Resolve(sourceID)
	if err != nil {
		return Result{}, err
	}

	zap.L().Info("Starting pipeline run",
		zap.String("source", src.Name),
		zap.Int("source_id", src.SourceID),
		zap.String("config", configPath),
	)

	result, err := runSource(src, runCtx)
	if err != nil {
		return Result{}, err
	}
	result.ElapsedSeconds = time.Since(start).Seconds()

	zap.L().Info("Pipeline run completed",
		zap.String("source", src.Name),
		zap.Int("total", result.Total),
		zap.Float64("elapsed_seconds", result.ElapsedSeconds),
	)
	return result, nil
}

func runSource(src *config.Source, runCtx map[string]interface{}) (Result, error) {
	columns := src.Mapping.FieldNames()

	var (
		result   Result
		lastResp *transport.Response
	)

	if src.Paginate == nil || src.Paginate.Type != "page" {
		rows, resp, err := fetchPage(src, runCtx)
		if err != nil {
			return Result{}, err
		}
		_metricPagesFetched.With("source", src.Name).Add(1)
		if err := sink.Write(rows, columns, src.Sink.Type, src.Sink.Path, src.Sink.Mode); err != nil {
			return Result{}, err
		}
		result.Total = len(rows)
		if len(rows) > 0 {
			result.Sample = rows[0]
		}
		lastResp = resp
	} else {
		firstPage := src.Paginate.Start
		for page := firstPage; page <= src.Paginate.MaxPages; page++ {
			pageCtx := make(map[string]interface{}, len(runCtx)+1)
			for k, v := range runCtx {
				pageCtx[k] = v
			}
			pageCtx["page"] = page

			rows, resp, err := fetchPage(src, pageCtx)
			if err != nil {
				return Result{}, err
			}
			_metricPagesFetched.With("source", src.Name).Add(1)
			if len(rows) == 0 {
				// Empty page is the natural end of data, not an error.
				zap.L().Debug("Empty page, stopping pagination", zap.String("source", src.Name), zap.Int("page", page))
				break
			}

			// A paginated run produces one logical file: only the first
			// page may honor the configured mode, the rest must append.
			mode := src.Sink.Mode
			if page > firstPage {
				mode = config.ModeAppend
			}
			if err := sink.Write(rows, columns, src.Sink.Type, src.Sink.Path, mode); err != nil {
				return Result{}, err
			}

			result.Total += len(rows)
			if result.Sample == nil {
				result.Sample = rows[0]
			}
			lastResp = resp

			zap.L().Debug("Page written",
				zap.String("source", src.Name),
				zap.Int("page", page),
				zap.Int("rows", len(rows)),
				zap.Int("total", result.Total),
			)
		}
	}

	if lastResp != nil {
		result.ResponseFields = metadata.Extract(lastResp, src.Response)
	}
	return result, nil
}

func fetchPage(src *config.Source, pageCtx map[string]interface{}) ([]mapper.Row, *transport.Response, error) {
	resp, err := transport.Send(src.Request, src.Auth, pageCtx)
	if err != nil {
		return nil, nil, err
	}

	var rows []mapper.Row
	switch src.InputFormat {
	case config.FormatJSON:
		var doc interface{}
		if err := jsoniter.Unmarshal(resp.Body, &doc); err != nil {
			return nil, nil, fmt.Errorf("decode json response from %s: %w", resp.URL, err)
		}
		rows, err = mapper.MapJSON(doc, src.Mapping)
	case config.FormatXML:
		rows, err = mapper.MapXML(resp.Body, src.Mapping)
	default:
		return nil, nil, fmt.Errorf("unsupported input format %q", src.InputFormat)
	}
	if err != nil {
		return nil, nil, err
	}
	return rows, resp, nil
}
