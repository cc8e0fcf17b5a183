package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

// source is the flattened YAML file behind the environment. Keys are
// UPPER_SNAKE paths: trader.slippage.cap_bps becomes TRADER_SLIPPAGE_CAP_BPS.
type source struct {
	ConfigSource
	values map[string]string
}

var (
	runtimeOnce   sync.Once
	runtimeSource *source
	runtimeErr    error
)

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return runtimeSource.ConfigSource, nil
}

func ensureRuntimeConfigLoaded() error {
	runtimeOnce.Do(func() {
		runtimeSource, runtimeErr = loadSource(os.Getenv)
	})
	return runtimeErr
}

// loadSource resolves CONFIG_FILE, or config/config-<CONFIG_PHASE>.yaml. A
// missing default file is not an error; a missing explicit one is.
func loadSource(getenv func(string) string) (*source, error) {
	src := &source{values: make(map[string]string)}

	src.Phase = strings.TrimSpace(getenv("CONFIG_PHASE"))
	if src.Phase == "" {
		src.Phase = "local"
	}

	configPath := strings.TrimSpace(getenv("CONFIG_FILE"))
	explicitPath := configPath != ""
	if configPath == "" {
		configPath = filepath.Join("config", "config-"+src.Phase+".yaml")
	}

	body, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicitPath {
			return src, nil
		}
		return nil, fmt.Errorf("read config file %q: %w", configPath, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", configPath, err)
	}
	if err := flattenInto("", raw, src.values); err != nil {
		return nil, fmt.Errorf("flatten config file %q: %w", configPath, err)
	}

	src.Loaded = true
	src.Path = configPath
	if absPath, err := filepath.Abs(configPath); err == nil {
		src.Path = absPath
	}
	return src, nil
}

func flattenInto(prefix string, value any, out map[string]string) error {
	join := func(key string) string {
		segment := normalizeKeySegment(key)
		if segment == "" || prefix == "" {
			return segment
		}
		return prefix + "_" + segment
	}

	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			if next := join(key); next != "" {
				if err := flattenInto(next, child, out); err != nil {
					return err
				}
			}
		}
	case map[any]any:
		for keyAny, child := range typed {
			key, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			if next := join(key); next != "" {
				if err := flattenInto(next, child, out); err != nil {
					return err
				}
			}
		}
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if trimmed := strings.TrimSpace(scalar); trimmed != "" {
					parts = append(parts, trimmed)
				}
			case bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		if prefix == "" {
			return fmt.Errorf("unsupported top-level value %T", value)
		}
		out[prefix] = fmt.Sprint(typed)
	}
	return nil
}

func normalizeKeySegment(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

// valueForKey prefers the process environment over the config file.
func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if err := ensureRuntimeConfigLoaded(); err != nil || runtimeSource == nil {
		return ""
	}
	return strings.TrimSpace(runtimeSource.values[key])
}
