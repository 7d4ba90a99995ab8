// Package normalizer turns raw model text into typed values.
//
// Normalize isolates the payload; Decode parses it, first strictly as JSON
// and then leniently through a YAML flow parser, which accepts the usual
// model mistakes: trailing commas, single quotes and unquoted keys.
package normalizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	pkgerrors "lessonmap-backend/pkg/errors"
)

// Tier records which parser accepted a payload.
type Tier string

const (
	TierStrict  Tier = "strict"
	TierLenient Tier = "lenient"
)

var (
	fencedJSON = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	blankRuns  = regexp.MustCompile(`\n\s*\n\s*`)
)

// Normalize returns the interior of the first ```json fenced block, trimmed.
// Without such a block it returns the whole input, trimmed. Normalize is
// idempotent.
func Normalize(raw string) string {
	if m := fencedJSON.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(raw)
}

// Split separates a conversational reply into its prose and its payloads.
// Payloads are the interiors of every ```json fenced block, in order, and
// prose is what remains with the blocks removed. A reply without a fenced
// block is a single payload with no prose.
func Split(raw string) (prose string, payloads []string) {
	matches := fencedJSON.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return "", []string{strings.TrimSpace(raw)}
	}
	for _, m := range matches {
		payloads = append(payloads, strings.TrimSpace(m[1]))
	}
	prose = fencedJSON.ReplaceAllString(raw, "")
	return strings.TrimSpace(blankRuns.ReplaceAllString(prose, "\n\n")), payloads
}

// Decode parses candidate into v. On failure of both tiers it returns a
// DECODE_FAILED AppError and v must not be used.
func Decode(candidate string, v any) (Tier, error) {
	strictErr := decodeStrict([]byte(candidate), v)
	if strictErr == nil {
		return TierStrict, nil
	}

	canonical, lenientErr := toCanonicalJSON(candidate)
	if lenientErr == nil {
		reset(v)
		lenientErr = decodeStrict(canonical, v)
	}
	if lenientErr == nil {
		return TierLenient, nil
	}

	return "", pkgerrors.NewDecodeError("model output is not a readable structured document",
		fmt.Errorf("strict: %v; lenient: %w", strictErr, lenientErr))
}

// NormalizeAndDecode runs Normalize followed by Decode.
func NormalizeAndDecode(raw string, v any) (Tier, error) {
	return Decode(Normalize(raw), v)
}

func decodeStrict(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("empty document")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after document")
	}
	return nil
}

// reset zeroes the value behind v so a failed strict pass leaves nothing behind.
func reset(v any) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	}
}

// toCanonicalJSON parses a lax document with the YAML parser and re-encodes
// it as JSON. Only mappings and sequences are accepted at the top level, so
// that arbitrary prose does not decode as a YAML string.
func toCanonicalJSON(candidate string) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(candidate), &node); err != nil {
		return nil, err
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode && root.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("document is not an object or array")
	}

	var generic any
	if err := root.Decode(&generic); err != nil {
		return nil, err
	}
	plain, err := jsonCompatible(generic)
	if err != nil {
		return nil, err
	}
	return json.Marshal(plain)
}

// jsonCompatible converts YAML decoded maps with non-string keys into
// string-keyed maps that encoding/json accepts.
func jsonCompatible(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			c, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			out[k] = c
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			c, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = c
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			c, err := jsonCompatible(val)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	default:
		return t, nil
	}
}
