// Package schema validates provider webhook bodies against the fixed
// webhook JSON schema and reports violations as a nested error map, one
// entry per failing JSON-pointer path.
package schema

import (
	"bytes"
	_ "embed"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed webhook.json
var webhookSchema string

// Webhook is the compiled provider webhook schema.
var Webhook = mustCompile()

func mustCompile() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("webhook.json", bytes.NewReader([]byte(webhookSchema))); err != nil {
		panic(err)
	}
	return c.MustCompile("webhook.json")
}

// Validate checks the decoded request body against the webhook schema.
// It returns nil for a valid body, else a nested map keyed by the failing
// instance path segments ("_root" for top-level violations), with lists of
// human-readable messages at the leaves.
func Validate(body any) map[string]any {
	err := Webhook.Validate(body)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return map[string]any{"_root": []string{err.Error()}}
	}

	errors := map[string]any{}
	for _, leaf := range leaves(ve) {
		path := pointerSegments(leaf.InstanceLocation)
		if len(path) == 0 {
			path = []string{"_root"}
		}
		element := errors
		for _, p := range path[:len(path)-1] {
			child, ok := element[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				element[p] = child
			}
			element = child
		}
		last := path[len(path)-1]
		msgs, _ := element[last].([]string)
		element[last] = append(msgs, leaf.Message)
	}
	return errors
}

// leaves flattens the validation error tree to its most specific causes.
func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func pointerSegments(ptr string) []string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return nil
	}
	segs := strings.Split(ptr, "/")
	for i, s := range segs {
		s = strings.ReplaceAll(s, "~1", "/")
		segs[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return segs
}
