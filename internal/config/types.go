package config

// InputFormat discriminates how a source's HTTP responses are parsed.
const (
	FormatJSON = "json"
	FormatXML  = "xml"
)

// Auth types supported by the transport layer.
const (
	AuthNone   = "none"
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
)

// Auth describes how requests to a source are authenticated.
// Only the fields relevant to the chosen Type are meaningful.
type Auth struct {
	Type       string `yaml:"type"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Token      string `yaml:"token"`
	Header     string `yaml:"header"`
	QueryParam string `yaml:"query_param"`
	Value      string `yaml:"value"`
}

// Request is a templated HTTP request specification.
// URL, header values, param values and body values may contain template
// expressions resolved against the runtime context.
type Request struct {
	Method         string                 `yaml:"method"`
	URL            string                 `yaml:"url"`
	Headers        map[string]string      `yaml:"headers"`
	Params         map[string]interface{} `yaml:"params"`
	Body           map[string]interface{} `yaml:"body"`
	TimeoutSeconds float64                `yaml:"timeout_seconds"`
}

// MappingField binds one output field name to a tree-query expression.
type MappingField struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// Mapping selects sub-trees of a response document and flattens them into rows.
// An empty Root means the whole document is the single sub-tree.
type Mapping struct {
	Root   string         `yaml:"root"`
	Fields []MappingField `yaml:"fields"`
}

// FieldNames returns the declared output field names, in declaration order.
func (m Mapping) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		names = append(names, f.Name)
	}
	return names
}

// Response metadata sources.
const (
	ResponseSourceStatus = "status"
	ResponseSourceHeader = "header"
	ResponseSourceJSON   = "json"
	ResponseSourceXML    = "xml"
)

// ResponseField extracts one summary value from the last page's raw response.
type ResponseField struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Expr   string `yaml:"expr"`
}

// ResponseSpec lists the metadata fields extracted for the job summary.
type ResponseSpec struct {
	Fields []ResponseField `yaml:"fields"`
}

// Sink types and write modes.
const (
	SinkNDJSON = "ndjson"
	SinkCSV    = "csv"

	ModeOverwrite = "overwrite"
	ModeAppend    = "append"
)

// Sink describes the flat-file destination of a source's mapped rows.
type Sink struct {
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`
}

// Pagination describes page-based fetching. MaxPages is a hard cap: the only
// natural end-of-data signal is an empty page.
type Pagination struct {
	Type     string `yaml:"type"`
	Start    int    `yaml:"start"`
	MaxPages int    `yaml:"max_pages"`
}

// Source is one named, numerically-identified ingestion target.
type Source struct {
	Name        string        `yaml:"name"`
	SourceID    int           `yaml:"source_id"`
	InputFormat string        `yaml:"input_format"`
	Auth        Auth          `yaml:"auth"`
	Request     Request       `yaml:"request"`
	Mapping     Mapping       `yaml:"mapping"`
	Response    *ResponseSpec `yaml:"response"`
	Sink        Sink          `yaml:"sink"`
	Paginate    *Pagination   `yaml:"paginate"`
}

// App is a loaded set of source definitions.
type App struct {
	Sources []Source `yaml:"sources"`
}
