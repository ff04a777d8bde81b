package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// ToMap converts cfg into nested maps keyed by the mapstructure tags. Durations become
// strings in the time.ParseDuration format so exported files stay readable.
func ToMap(cfg any) (map[string]any, error) {
	var decoded map[string]any
	if err := mapstructure.Decode(cfg, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode config to map: %w", err)
	}

	out := make(map[string]any, len(decoded))
	for k, v := range decoded {
		normalized, err := normalize(v)
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", k, err)
		}
		out[k] = normalized
	}
	return out, nil
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case time.Duration:
		return val.String(), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			normalized, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = normalized
		}
		return out, nil
	}

	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Struct, reflect.Ptr:
		// collections of sections, their json tags mirror the mapstructure ones
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, err
		}
		return out, nil
	default:
		return v, nil
	}
}

// ToFile exports cfg in the format matching the extension of filename.
func ToFile(cfg any, filename, envPrefix string) error {
	ext, err := FileExt(filename)
	if err != nil {
		return err
	}

	switch ext {
	case "json":
		return ToJSONFile(cfg, filename)
	case "env", "dotenv":
		return ToEnvFile(cfg, filename, envPrefix)
	default:
		return ToYAMLFile(cfg, filename)
	}
}

// ToYAMLFile exports the given config struct into a YAML file.
func ToYAMLFile(cfg any, filename string) error {
	mapData, err := ToMap(cfg)
	if err != nil {
		return err
	}

	yamlData, err := yaml.Marshal(mapData)
	if err != nil {
		return fmt.Errorf("failed to marshal map to yaml: %w", err)
	}

	if err := os.WriteFile(filename, yamlData, 0600); err != nil {
		return fmt.Errorf("failed to write yaml to file: %w", err)
	}
	return nil
}

// ToJSONFile exports the given config struct into a JSON file.
func ToJSONFile(cfg any, filename string) error {
	mapData, err := ToMap(cfg)
	if err != nil {
		return err
	}

	jsonData, err := json.MarshalIndent(mapData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal map to json: %w", err)
	}

	if err := os.WriteFile(filename, jsonData, 0600); err != nil {
		return fmt.Errorf("failed to write json to file: %w", err)
	}
	return nil
}

// ToEnvFile exports the given config struct as KEY="value" lines. Lists are joined with commas.
func ToEnvFile(cfg any, filename string, envPrefix string) error {
	mapData, err := ToMap(cfg)
	if err != nil {
		return err
	}
	if len(mapData) == 0 {
		return fmt.Errorf("config appears empty or unsupported, nothing to write")
	}

	flat := make(map[string]string)
	flattenMap(strings.ToUpper(envPrefix), mapData, flat)

	lines := make([]string, 0, len(flat))
	for k, v := range flat {
		lines = append(lines, fmt.Sprintf(`%s="%s"`, k, v))
	}
	sort.Strings(lines)

	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(filename, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write env to file: %w", err)
	}
	return nil
}

func flattenMap(prefix string, input map[string]any, out map[string]string) {
	for k, v := range input {
		key := strings.ToUpper(k)
		if prefix != "" {
			key = prefix + "_" + key
		}

		switch val := v.(type) {
		case map[string]any:
			flattenMap(key, val, out)
		case []string:
			out[key] = strings.Join(val, ",")
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				items = append(items, fmt.Sprint(item))
			}
			out[key] = strings.Join(items, ",")
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprintf("%v", val)
		}
	}
}
