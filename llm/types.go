package llm

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Config keys understood by every backend.
const (
	ConfigTemperature     = "temperature"
	ConfigMaxOutputTokens = "max_output_tokens"
	ConfigTopP            = "top_p"
	ConfigTopK            = "top_k"
	ConfigStop            = "stop"
	// ConfigStep is a routing hint naming the pipeline step. Real backends ignore it.
	ConfigStep = "step"
)

// Config carries optional generation settings. A nil Config and an empty one are equivalent.
type Config map[string]any

// Clone returns a shallow copy of c, or nil when c is empty.
func (c Config) Clone() Config {
	if len(c) == 0 {
		return nil
	}
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a copy of c with key set to value.
func (c Config) With(key string, value any) Config {
	out := c.Clone()
	if out == nil {
		out = Config{}
	}
	out[key] = value
	return out
}

// Response represents a complete generation result.
type Response struct {
	Text       string
	Usage      *Usage
	StopReason string
}

// GetText returns the response text. It is safe to call on a nil Response.
func (r *Response) GetText() string {
	if r == nil {
		return ""
	}
	return r.Text
}

// Usage represents token usage information from a backend response.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Options is the decoded, typed form of a Config.
type Options struct {
	Temperature     *float64
	MaxOutputTokens *int
	TopP            *float64
	TopK            *int
	Stop            []string
	Step            string
}

// ParseOptions decodes cfg into typed Options. Unknown keys and wrongly typed
// values produce an invalid_request error naming every offending key.
func ParseOptions(cfg Config) (Options, error) {
	var opts Options
	var problems []string

	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := cfg[k]
		switch k {
		case ConfigTemperature:
			f, ok := toFloat(v)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be a number, got %T", k, v))
				continue
			}
			opts.Temperature = &f
		case ConfigTopP:
			f, ok := toFloat(v)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be a number, got %T", k, v))
				continue
			}
			opts.TopP = &f
		case ConfigMaxOutputTokens:
			n, ok := toInt(v)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be an integer, got %T", k, v))
				continue
			}
			opts.MaxOutputTokens = &n
		case ConfigTopK:
			n, ok := toInt(v)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be an integer, got %T", k, v))
				continue
			}
			opts.TopK = &n
		case ConfigStop:
			stop, ok := toStrings(v)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be a list of strings, got %T", k, v))
				continue
			}
			opts.Stop = stop
		case ConfigStep:
			s, ok := v.(string)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be a string, got %T", k, v))
				continue
			}
			opts.Step = s
		default:
			problems = append(problems, fmt.Sprintf("unsupported configuration key %q", k))
		}
	}

	if len(problems) > 0 {
		return Options{}, NewInvalidRequestError("unsupported configuration: "+strings.Join(problems, "; "), nil)
	}
	return opts, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func toStrings(v any) ([]string, bool) {
	switch s := v.(type) {
	case string:
		return []string{s}, true
	case []string:
		return append([]string(nil), s...), true
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
