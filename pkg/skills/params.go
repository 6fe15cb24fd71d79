package skills

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// ErrInvalidParams is matched by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid parameters")

// GenerateSchema reflects a parameter struct into a closed JSON schema.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	return reflector.Reflect(v)
}

// closed reports whether the schema rejects properties it does not list.
func closed(schema *jsonschema.Schema) bool {
	if schema.AdditionalProperties == nil {
		return false
	}
	if schema.AdditionalProperties == jsonschema.FalseSchema {
		return true
	}
	b, err := json.Marshal(schema.AdditionalProperties)
	return err == nil && string(b) == "false"
}

// Validate checks params against schema and returns the values converted to
// the declared property types. The variable flag is always accepted.
func Validate(schema *jsonschema.Schema, params Params) (map[string]any, error) {
	values := make(map[string]any, len(params))
	if schema == nil {
		for k, v := range params {
			values[k] = v
		}
		return values, nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var problems []string
	for _, key := range keys {
		raw := params[key]
		var prop *jsonschema.Schema
		if schema.Properties != nil {
			prop, _ = schema.Properties.Get(key)
		}
		if prop == nil {
			if key != VariableParam && closed(schema) {
				problems = append(problems, fmt.Sprintf("unknown flag --%s", key))
				continue
			}
			values[key] = raw
			continue
		}
		v, err := coerce(prop, raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("--%s: %s", key, err))
			continue
		}
		values[key] = v
	}

	for _, req := range schema.Required {
		if _, ok := params[req]; !ok {
			problems = append(problems, fmt.Sprintf("missing required flag --%s", req))
		}
	}

	if len(problems) > 0 {
		return nil, errors.Wrap(ErrInvalidParams, strings.Join(problems, "; "))
	}
	return values, nil
}

func coerce(prop *jsonschema.Schema, raw string) (any, error) {
	var v any
	switch prop.Type {
	case "integer":
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, errors.Errorf("expected an integer, got %q", raw)
		}
		v = n
	case "number":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, errors.Errorf("expected a number, got %q", raw)
		}
		v = f
	case "boolean":
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Errorf("expected true or false, got %q", raw)
		}
		v = b
	case "array":
		var items []any
		if strings.HasPrefix(strings.TrimSpace(raw), "[") {
			if err := json.Unmarshal([]byte(raw), &items); err != nil {
				return nil, errors.Errorf("expected a JSON array: %s", err)
			}
		} else {
			for _, part := range strings.Split(raw, ",") {
				if part = strings.TrimSpace(part); part != "" {
					items = append(items, part)
				}
			}
		}
		v = items
	case "object":
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, errors.Errorf("expected a JSON object: %s", err)
		}
		v = obj
	default:
		v = raw
	}

	if len(prop.Enum) > 0 {
		for _, allowed := range prop.Enum {
			if fmt.Sprint(allowed) == fmt.Sprint(v) {
				return v, nil
			}
		}
		choices := make([]string, 0, len(prop.Enum))
		for _, allowed := range prop.Enum {
			choices = append(choices, fmt.Sprint(allowed))
		}
		return nil, errors.Errorf("must be one of %s", strings.Join(choices, ", "))
	}
	return v, nil
}

// Bind validates params against schema and decodes them into out, a pointer
// to a struct with json tags.
func Bind(schema *jsonschema.Schema, params Params, out any) error {
	values, err := Validate(schema, params)
	if err != nil {
		return err
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create parameter decoder")
	}
	if err := decoder.Decode(values); err != nil {
		return errors.Wrap(ErrInvalidParams, err.Error())
	}
	return nil
}

// PropertyNames lists the schema's properties in declaration order.
func PropertyNames(schema *jsonschema.Schema) []string {
	if schema == nil || schema.Properties == nil {
		return nil
	}
	var names []string
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}
