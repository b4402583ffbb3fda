package keyword

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/optics-suite/optics/pkg/errcode"
)

// maxAPIResponse caps how much of a response body invoke_api reads.
const maxAPIResponse = 8 << 20

// APIProvider contributes the invoke_api keyword that executes API calls
// declared in the suite.
type APIProvider struct {
	// Client defaults to a 30-second-timeout client when nil.
	Client *http.Client
}

func (p APIProvider) Keywords() []Definition {
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return []Definition{
		{
			Name:    "invoke_api",
			Summary: "Execute a declared API call and extract response fields into the element store.",
			Params: []Param{
				{Name: "name", Type: TypeString, Required: true},
			},
			Fn: func(ctx context.Context, rt Runtime, inv *Invocation) (any, error) {
				return invokeAPI(ctx, rt, inv, client)
			},
		},
	}
}

func invokeAPI(ctx context.Context, rt Runtime, inv *Invocation, client *http.Client) (any, error) {
	name, err := inv.Require(0, "name")
	if err != nil {
		return nil, err
	}
	call, ok := rt.API(name)
	if !ok {
		return nil, errcode.Newf(errcode.KeywordBadParams,
			"api %q is not declared in the suite", name)
	}

	method := strings.ToUpper(call.Method)
	if method == "" {
		method = http.MethodGet
	}
	url, err := rt.Elements().Substitute(call.URL)
	if err != nil {
		return nil, err
	}
	body := call.Body
	if body != "" {
		if body, err = rt.Elements().Substitute(body); err != nil {
			return nil, err
		}
	}
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errcode.Wrap(errcode.KeywordBadParams, err)
	}
	for k, v := range call.Headers {
		hv, err := rt.Elements().Substitute(v)
		if err != nil {
			return nil, err
		}
		req.Header.Set(k, hv)
	}

	started := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, errcode.Wrap(errcode.KeywordFailed, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponse))
	if err != nil {
		return nil, errcode.Wrap(errcode.KeywordFailed, err)
	}

	// The exchange is recorded before the status check so failing calls
	// still show up in the api_details artifacts.
	rec := APIRecord{
		Name:            name,
		Method:          method,
		URL:             url,
		RequestHeaders:  headerMap(req.Header),
		RequestBody:     body,
		Status:          resp.StatusCode,
		ResponseHeaders: headerMap(resp.Header),
		ResponseBody:    string(respBody),
		StartedAt:       started,
		Elapsed:         time.Since(started),
	}
	if err := rt.RecordAPICall(rec); err != nil {
		rt.Logger().Warn("Recording API call failed", "api", name, "error", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errcode.Newf(errcode.KeywordFailed,
			"api %q returned status %d", name, resp.StatusCode).
			WithMeta("status", resp.StatusCode)
	}

	extracted, err := extractFields(rt, call.Extract, respBody)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": resp.StatusCode, "extracted": extracted}, nil
}

// extractFields stores named response fields in the element store and
// returns the stored names sorted.
func extractFields(rt Runtime, extract map[string]string, body []byte) ([]string, error) {
	if len(extract) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errcode.Wrap(errcode.ParamResolution, err).
			WithDetails("response is not valid JSON")
	}
	names := make([]string, 0, len(extract))
	for outName, path := range extract {
		v, ok := jsonField(doc, path)
		if !ok {
			return nil, errcode.Newf(errcode.ParamResolution,
				"response field %q not found", path)
		}
		rt.Elements().Set(outName, []string{stringify(v)})
		names = append(names, outName)
	}
	sort.Strings(names)
	return names, nil
}

// jsonField walks a dot-separated path through decoded JSON. Numeric
// segments index into arrays.
func jsonField(doc any, path string) (any, bool) {
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func headerMap(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
