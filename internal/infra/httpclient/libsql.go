package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/memodb-io/deploy-platform/internal/config"
	"go.uber.org/zap"
)

// Value is one positional argument in the libSQL hrana wire encoding.
type Value struct {
	Type   string `json:"type"`
	Value  any    `json:"value,omitempty"`
	Base64 string `json:"base64,omitempty"`
}

// MarshalJSON keeps the base64 key on blobs, including empty ones.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case "null":
		return sonic.Marshal(struct {
			Type string `json:"type"`
		}{v.Type})
	case "blob":
		return sonic.Marshal(struct {
			Type   string `json:"type"`
			Base64 string `json:"base64"`
		}{v.Type, v.Base64})
	default:
		type plain Value
		return sonic.Marshal(plain(v))
	}
}

type Statement struct {
	SQL  string  `json:"sql"`
	Args []Value `json:"args"`
}

type pipelineRequest struct {
	Type string     `json:"type"`
	Stmt *Statement `json:"stmt,omitempty"`
}

type pipelineBody struct {
	Requests []pipelineRequest `json:"requests"`
}

// PipelineError is an error reported inside a successful HTTP answer.
type PipelineError struct {
	Message string
	Code    string
}

func (e *PipelineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("pipeline error %s: %s", e.Code, e.Message)
	}
	return "pipeline error: " + e.Message
}

// PipelineClient runs statements against a tenant database over the
// /v2/pipeline HTTP endpoint.
type PipelineClient struct {
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Endpoint builds the pipeline URL for a database hostname.
	Endpoint func(hostname string) string
}

func NewPipelineClient(cfg *config.Config, log *zap.Logger) *PipelineClient {
	timeout := time.Duration(cfg.Runtime.QueryTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PipelineClient{
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     log,
		Endpoint:   DefaultPipelineEndpoint,
	}
}

func DefaultPipelineEndpoint(hostname string) string {
	return "https://" + hostname + "/v2/pipeline"
}

// Execute sends one execute request followed by close and returns the first
// result's response, or the raw result when it carries none.
func (c *PipelineClient) Execute(ctx context.Context, hostname, token string, stmt Statement) (any, error) {
	if stmt.Args == nil {
		stmt.Args = []Value{}
	}
	body, err := sonic.Marshal(pipelineBody{Requests: []pipelineRequest{
		{Type: "execute", Stmt: &stmt},
		{Type: "close"},
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal pipeline: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint(hostname), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read pipeline response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.Logger.Warn("pipeline request failed",
			zap.String("hostname", hostname),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", string(raw)))
		return nil, &StatusError{Op: "pipeline", StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out struct {
		Results []map[string]any `json:"results"`
	}
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode pipeline response: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, errors.New("pipeline response has no results")
	}

	first := out.Results[0]
	if e, ok := first["error"]; ok && e != nil {
		return nil, toPipelineError(e)
	}
	if r, ok := first["response"]; ok {
		return r, nil
	}
	return first, nil
}

func toPipelineError(e any) *PipelineError {
	pe := &PipelineError{}
	switch v := e.(type) {
	case map[string]any:
		pe.Message, _ = v["message"].(string)
		pe.Code, _ = v["code"].(string)
	case string:
		pe.Message = v
	}
	if pe.Message == "" {
		pe.Message = "unknown"
	}
	return pe
}

var typedValueKinds = map[string]bool{
	"null": true, "integer": true, "float": true, "text": true, "blob": true,
}

// EncodeArgs converts decoded JSON params into hrana values. Booleans become
// integers, objects and arrays are sent as JSON text, and an object shaped
// like {"type": T, "value": V} with a known T is passed through.
func EncodeArgs(params []any) ([]Value, error) {
	args := make([]Value, 0, len(params))
	for i, p := range params {
		v, err := EncodeArg(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args = append(args, v)
	}
	return args, nil
}

func EncodeArg(p any) (Value, error) {
	switch v := p.(type) {
	case nil:
		return Value{Type: "null"}, nil
	case bool:
		if v {
			return Value{Type: "integer", Value: "1"}, nil
		}
		return Value{Type: "integer", Value: "0"}, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Value{Type: "integer", Value: strconv.FormatInt(i, 10)}, nil
		}
		if !strings.ContainsAny(v.String(), ".eE") {
			return Value{}, fmt.Errorf("integer %s is out of int64 range", v.String())
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", v.String())
		}
		return floatValue(f)
	case int:
		return Value{Type: "integer", Value: strconv.FormatInt(int64(v), 10)}, nil
	case int64:
		return Value{Type: "integer", Value: strconv.FormatInt(v, 10)}, nil
	case int32:
		return Value{Type: "integer", Value: strconv.FormatInt(int64(v), 10)}, nil
	case float64:
		return floatValue(v)
	case float32:
		return floatValue(float64(v))
	case string:
		return Value{Type: "text", Value: v}, nil
	case map[string]any:
		if tv, ok := typedValue(v); ok {
			return tv, nil
		}
		return jsonText(v)
	case []any:
		return jsonText(v)
	default:
		return Value{Type: "text", Value: fmt.Sprint(v)}, nil
	}
}

func floatValue(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, errors.New("non-finite float")
	}
	return Value{Type: "float", Value: f}, nil
}

func jsonText(v any) (Value, error) {
	b, err := sonic.Marshal(v)
	if err != nil {
		return Value{}, err
	}
	return Value{Type: "text", Value: string(b)}, nil
}

// typedValue recognises an already encoded {"type", "value"|"base64"} object.
func typedValue(m map[string]any) (Value, bool) {
	t, ok := m["type"].(string)
	if !ok || !typedValueKinds[t] {
		return Value{}, false
	}
	for k := range m {
		if k != "type" && k != "value" && k != "base64" {
			return Value{}, false
		}
	}

	out := Value{Type: t}
	switch t {
	case "null":
	case "integer":
		switch n := m["value"].(type) {
		case string:
			out.Value = n
		case json.Number:
			out.Value = n.String()
		default:
			return Value{}, false
		}
	case "float":
		switch n := m["value"].(type) {
		case json.Number:
			f, err := n.Float64()
			if err != nil {
				return Value{}, false
			}
			out.Value = f
		case float64:
			out.Value = n
		default:
			return Value{}, false
		}
	case "text":
		s, ok := m["value"].(string)
		if !ok {
			return Value{}, false
		}
		out.Value = s
	case "blob":
		s, ok := m["base64"].(string)
		if !ok {
			s, ok = m["value"].(string)
		}
		if !ok {
			return Value{}, false
		}
		out.Base64 = s
	}
	return out, true
}
