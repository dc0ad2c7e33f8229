// Package templater implements the Path/Body Templater (C1): it
// substitutes tool-call arguments into an endpoint's `{name}` path
// segments and folds any leftover scalar arguments and declared
// parameter defaults into a query string or a JSON body.
//
// Grounded on the path-substitution and query-folding behavior of
// _examples/original_source/crates/common/src/path.rs and
// crates/prompt_gateway/src/tools.rs, with the exact conditional `?`
// vs `&` joining rule taken from spec.md §4.3 step 3, which is more
// precise than the Rust source's always-append-`?` shortcut.
package templater

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"archgw/internal/gatewayapi"
	"archgw/internal/gatewayerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Result is the templater's output: a GET gets Path populated with a
// full query string and no Body; a POST gets a bare Path and a JSON Body.
type Result struct {
	Path string
	Body []byte
}

// filterScalars keeps only string/number/bool values from a parsed
// tool-call arguments map, converting each to its string form. Objects,
// arrays and nulls are dropped: only URL-safe scalars may appear in a
// path or query string.
func filterScalars(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case jsoniter.Number:
			out[k] = string(val)
		default:
			// arrays, objects, null: not URL-safe, dropped.
		}
	}
	return out
}

// Build computes the outbound path and optional body for a tool call.
// pathTemplate holds `{name}` segments; args is the parsed JSON object
// of tool-call arguments; declared is the tool's declared parameter
// list (used for default-value fallback); method is GET or POST.
func Build(pathTemplate string, args map[string]any, declared []gatewayapi.Parameter, method string) (Result, error) {
	scalars := filterScalars(args)
	consumed := make(map[string]bool, len(scalars))

	path, err := substitutePath(pathTemplate, scalars, consumed)
	if err != nil {
		return Result{}, err
	}

	// surplus: scalars not consumed by a {name} path segment.
	surplus := map[string]string{}
	for _, k := range sortedKeys(scalars) {
		if consumed[k] {
			continue
		}
		surplus[k] = scalars[k]
	}
	for _, p := range declared {
		if _, ok := surplus[p.Name]; ok || consumed[p.Name] || p.Default == "" {
			continue
		}
		surplus[p.Name] = p.Default
	}

	var queryPairs []string
	for _, k := range sortedKeys(surplus) {
		queryPairs = append(queryPairs, k+"="+queryEscape(surplus[k]))
	}
	queryString := strings.Join(queryPairs, "&")

	if strings.EqualFold(method, "POST") {
		body := map[string]any{}
		for k, v := range surplus {
			body[k] = v
		}
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return Result{}, gatewayerr.Serialization(err)
		}
		return Result{Path: path, Body: bodyBytes}, nil
	}

	if queryString != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		path = path + sep + queryString
	}
	return Result{Path: path}, nil
}

func substitutePath(template string, scalars map[string]string, consumed map[string]bool) (string, error) {
	var out strings.Builder
	var param strings.Builder
	inParam := false

	for _, r := range template {
		switch {
		case r == '{':
			inParam = true
			param.Reset()
		case r == '}':
			if !inParam {
				out.WriteRune(r)
				continue
			}
			inParam = false
			name := param.String()
			val, ok := scalars[name]
			if !ok {
				return "", gatewayerr.MissingParameter(name)
			}
			out.WriteString(url.PathEscape(val))
			consumed[name] = true
		case inParam:
			param.WriteRune(r)
		default:
			out.WriteRune(r)
		}
	}
	return out.String(), nil
}

// queryEscape percent-encodes a query value using %20 for spaces,
// matching the URL-encoding tests expect, rather than url.QueryEscape's
// application/x-www-form-urlencoded '+' convention.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
