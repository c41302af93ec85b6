// Package mapper flattens parsed response documents into rows, driven by a
// declarative mapping spec. JSON documents are queried with JMESPath, XML
// documents with XPath. A field expression that matches nothing yields nil,
// never an error: row shape is stable even against sparse payloads.
package mapper

import (
	"bytes"
	"fmt"

	"github.com/antchfx/xmlquery"
	"github.com/jmespath/go-jmespath"

	"github.com/feedpoint/harvester/internal/config"
)

// Row is one flat output record.
type Row = map[string]interface{}

// MapJSON evaluates the mapping against a decoded JSON document.
// An invalid root expression is a configuration-level error; invalid or
// unmatched field expressions degrade to nil values.
func MapJSON(doc interface{}, mapping config.Mapping) ([]Row, error) {
	items := []interface{}{doc}
	if mapping.Root != "" {
		selected, err := jmespath.Search(mapping.Root, doc)
		if err != nil {
			return nil, fmt.Errorf("mapping root %q: %w", mapping.Root, err)
		}
		switch s := selected.(type) {
		case nil:
			items = nil
		case []interface{}:
			items = s
		default:
			items = []interface{}{s}
		}
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		row := make(Row, len(mapping.Fields))
		for _, field := range mapping.Fields {
			value, err := jmespath.Search(field.Expr, item)
			if err != nil {
				value = nil
			}
			row[field.Name] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// MapXML parses the raw XML body and evaluates the mapping against it.
// XPath field results follow node-set semantics: zero matches is nil, one
// match is the node's text, several matches are a slice of texts.
func MapXML(body []byte, mapping config.Mapping) ([]Row, error) {
	root, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse xml document: %w", err)
	}

	items := []*xmlquery.Node{root}
	if mapping.Root != "" {
		items, err = xmlquery.QueryAll(root, mapping.Root)
		if err != nil {
			return nil, fmt.Errorf("mapping root %q: %w", mapping.Root, err)
		}
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		row := make(Row, len(mapping.Fields))
		for _, field := range mapping.Fields {
			row[field.Name] = evalXMLField(item, field.Expr)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func evalXMLField(node *xmlquery.Node, expr string) interface{} {
	matches, err := xmlquery.QueryAll(node, expr)
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
