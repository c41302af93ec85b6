package metadata

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedpoint/harvester/internal/config"
	"github.com/feedpoint/harvester/internal/transport"
)

func TestExtract(t *testing.T) {
	t.Run("json response", func(t *testing.T) {
		resp := &transport.Response{
			StatusCode: 200,
			Header:     http.Header{"X-Total-Count": []string{"412"}},
			Body:       []byte(`{"meta":{"pages":17},"items":[1,2]}`),
		}
		spec := &config.ResponseSpec{Fields: []config.ResponseField{
			{Name: "status", Source: "status"},
			{Name: "total", Source: "header", Expr: "x-total-count"},
			{Name: "pages", Source: "json", Expr: "meta.pages"},
			{Name: "absent", Source: "json", Expr: "meta.nope"},
			{Name: "broken", Source: "json", Expr: "meta["},
			{Name: "no_header", Source: "header", Expr: "X-Missing"},
		}}

		got := Extract(resp, spec)
		require.NotNil(t, got)
		assert.Equal(t, 200, got["status"])
		assert.Equal(t, "412", got["total"])
		assert.Equal(t, float64(17), got["pages"])
		assert.Nil(t, got["absent"])
		assert.Nil(t, got["broken"])
		assert.Nil(t, got["no_header"])
	})

	t.Run("xml response", func(t *testing.T) {
		resp := &transport.Response{
			StatusCode: 200,
			Body:       []byte(`<resp><count>9</count><warn>a</warn><warn>b</warn></resp>`),
		}
		spec := &config.ResponseSpec{Fields: []config.ResponseField{
			{Name: "count", Source: "xml", Expr: "//count"},
			{Name: "warnings", Source: "xml", Expr: "//warn"},
			{Name: "missing", Source: "xml", Expr: "//nothing"},
		}}

		got := Extract(resp, spec)
		assert.Equal(t, "9", got["count"])
		assert.Equal(t, []interface{}{"a", "b"}, got["warnings"])
		assert.Nil(t, got["missing"])
	})

	t.Run("malformed body nils json fields only", func(t *testing.T) {
		resp := &transport.Response{
			StatusCode: 502,
			Body:       []byte(`<html>gateway error`),
		}
		spec := &config.ResponseSpec{Fields: []config.ResponseField{
			{Name: "status", Source: "status"},
			{Name: "pages", Source: "json", Expr: "meta.pages"},
		}}

		got := Extract(resp, spec)
		assert.Equal(t, 502, got["status"])
		assert.Nil(t, got["pages"])
	})

	t.Run("nil inputs yield nil map", func(t *testing.T) {
		assert.Nil(t, Extract(nil, &config.ResponseSpec{Fields: []config.ResponseField{{Name: "x"}}}))
		assert.Nil(t, Extract(&transport.Response{}, nil))
		assert.Nil(t, Extract(&transport.Response{}, &config.ResponseSpec{}))
	})
}
