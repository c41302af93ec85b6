package transport

import (
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// logExchange appends one JSON line describing the resolved request and its
// response when the context carries a log_file destination. Logging is a best
// effort side channel: any failure here is discarded so it can never alter
// the HTTP result.
func logExchange(runCtx map[string]interface{}, method string, resp *Response, headers, params map[string]string, body []byte) {
	dest, ok := runCtx["log_file"].(string)
	if !ok || dest == "" {
		return
	}

	entry := map[string]interface{}{
		"method":            method,
		"url":               resp.URL,
		"headers":           headers,
		"params":            params,
		"request_timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":            resp.StatusCode,
		"response_headers":  resp.Header,
		"response_body":     string(resp.Body),
	}
	if body != nil {
		var decoded interface{}
		if err := jsoniter.Unmarshal(body, &decoded); err == nil {
			entry["body"] = decoded
		}
	}

	line, err := jsoniter.Marshal(entry)
	if err != nil {
		return
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	f.Write(append(line, '\n'))
}
