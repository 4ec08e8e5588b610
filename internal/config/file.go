package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFromEnvAndFile resolves settings from the environment, falling back to
// a flat YAML document keyed by the same variable names.
func LoadFromEnvAndFile(path string) (Settings, error) {
	if path == "" {
		return LoadFromEnv()
	}
	fileLookup, err := FileLookup(path)
	if err != nil {
		return Settings{}, err
	}
	return Resolve(Chain(os.LookupEnv, fileLookup))
}

func FileLookup(path string) (Lookup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{msg: fmt.Sprintf("read config file %s: %v", path, err)}
	}
	values, err := parseFlatYAML(raw)
	if err != nil {
		return nil, &Error{msg: fmt.Sprintf("parse config file %s: %v", path, err)}
	}
	return MapLookup(values), nil
}

func MapLookup(values map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// Chain consults each lookup in order; the first one holding a non-blank
// value wins.
func Chain(lookups ...Lookup) Lookup {
	return func(key string) (string, bool) {
		for _, lookup := range lookups {
			if v, ok := lookup(key); ok && defaultString(v, "") != "" {
				return v, true
			}
		}
		return "", false
	}
}

func parseFlatYAML(raw []byte) (map[string]string, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc))
	for key, node := range doc {
		if node.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("key %s: expected a scalar value", key)
		}
		out[key] = node.Value
	}
	return out, nil
}
