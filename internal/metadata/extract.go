// Package metadata pulls summary values out of the last page's raw response.
// Extraction is deliberately forgiving: every field resolves independently and
// a failure contributes a nil entry instead of aborting the others.
package metadata

import (
	"bytes"

	"github.com/antchfx/xmlquery"
	"github.com/jmespath/go-jmespath"
	jsoniter "github.com/json-iterator/go"

	"github.com/feedpoint/harvester/internal/config"
	"github.com/feedpoint/harvester/internal/transport"
)

// Extract resolves every field of the spec against the response. The body is
// parsed at most once per source kind and cached across fields.
func Extract(resp *transport.Response, spec *config.ResponseSpec) map[string]interface{} {
	if resp == nil || spec == nil || len(spec.Fields) == 0 {
		return nil
	}

	var (
		jsonDoc    interface{}
		jsonParsed bool
		jsonFailed bool
		xmlDoc     *xmlquery.Node
		xmlParsed  bool
	)

	out := make(map[string]interface{}, len(spec.Fields))
	for _, field := range spec.Fields {
		var value interface{}

		switch field.Source {
		case config.ResponseSourceStatus:
			value = resp.StatusCode

		case config.ResponseSourceHeader:
			if v := resp.Header.Get(field.Expr); v != "" {
				value = v
			}

		case config.ResponseSourceJSON:
			if !jsonParsed {
				jsonParsed = true
				jsonFailed = jsoniter.Unmarshal(resp.Body, &jsonDoc) != nil
			}
			if !jsonFailed {
				if v, err := jmespath.Search(field.Expr, jsonDoc); err == nil {
					value = v
				}
			}

		case config.ResponseSourceXML:
			if !xmlParsed {
				xmlParsed = true
				xmlDoc, _ = xmlquery.Parse(bytes.NewReader(resp.Body))
			}
			if xmlDoc != nil {
				value = evalXML(xmlDoc, field.Expr)
			}
		}

		out[field.Name] = value
	}
	return out
}

func evalXML(doc *xmlquery.Node, expr string) interface{} {
	matches, err := xmlquery.QueryAll(doc, expr)
	if err != nil || len(matches) == 0 {
		return nil
	}
	if len(matches) == 1 {
		return matches[0].InnerText()
	}
	texts := make([]interface{}, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.InnerText())
	}
	return texts
}
