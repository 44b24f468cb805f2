package asyncz

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPrefix is the key prefix recognized by Normalize when settings
// arrive in the flattened dotted form (e.g. "asyncz.executors.default.type").
const DefaultPrefix = "asyncz."

// JobDefaults holds the fallback values applied to jobs that do not set
// the corresponding option explicitly.
type JobDefaults struct {
	// MisfireGrace is the maximum tolerated delay between a run time and
	// the moment it is processed. Zero means no limit.
	MisfireGrace time.Duration

	// Coalesce collapses a batch of overdue run times into a single
	// invocation using the latest run time.
	Coalesce bool

	// MaxInstances bounds concurrent invocations of one job id.
	MaxInstances int
}

// DefaultJobDefaults returns the engine defaults: one second of misfire
// grace, coalescing on, one concurrent instance per job.
func DefaultJobDefaults() JobDefaults {
	return JobDefaults{
		MisfireGrace: time.Second,
		Coalesce:     true,
		MaxInstances: 1,
	}
}

// ComponentConfig describes one store or executor in Settings: a type name
// resolved through the scheduler's factory registry plus free-form
// constructor arguments.
type ComponentConfig struct {
	Type string
	Args map[string]any
}

// Settings is the canonical, nested configuration structure for a
// scheduler. It can be built directly, decoded from YAML, or derived from
// a flat dotted-key map; all three converge on identical values.
type Settings struct {
	Timezone    string
	JobDefaults JobDefaults
	Stores      map[string]ComponentConfig
	Executors   map[string]ComponentConfig
}

// Location resolves the configured timezone, defaulting to time.Local.
func (s Settings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrBadSettings, s.Timezone, err)
	}
	return loc, nil
}

// Normalize converts a configuration map that may mix dotted flat keys
// ("executors.default.type") and nested maps into one canonical nested
// map. It is a pure function: the input is not modified.
//
// When prefix is non-empty, only keys carrying the prefix are considered
// and the prefix is stripped; nested values are passed through untouched
// by the filter.
func Normalize(prefix string, config map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range config {
		if prefix != "" {
			if !strings.HasPrefix(key, prefix) {
				continue
			}
			key = key[len(prefix):]
		}
		insertPath(out, strings.Split(key, "."), value)
	}
	return out
}

// insertPath merges value into m at the given key path, descending into
// map values so that dotted keys inside nested maps also normalize.
func insertPath(m map[string]any, path []string, value any) {
	head, rest := path[0], path[1:]

	if len(rest) == 0 {
		if sub, ok := toStringMap(value); ok {
			child := childMap(m, head)
			for k, v := range sub {
				insertPath(child, strings.Split(k, "."), v)
			}
			return
		}
		m[head] = value
		return
	}

	insertPath(childMap(m, head), rest, value)
}

func childMap(m map[string]any, key string) map[string]any {
	if existing, ok := m[key].(map[string]any); ok {
		return existing
	}
	child := make(map[string]any)
	m[key] = child
	return child
}

// toStringMap converts both map[string]any and the map[any]any form some
// YAML decoders produce.
func toStringMap(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// SettingsFromMap builds Settings from a normalized (or normalizable)
// configuration map. Malformed values fail here, before any scheduler is
// constructed.
func SettingsFromMap(config map[string]any) (Settings, error) {
	config = Normalize("", config)

	s := Settings{
		JobDefaults: DefaultJobDefaults(),
		Stores:      make(map[string]ComponentConfig),
		Executors:   make(map[string]ComponentConfig),
	}

	if tz, ok := config["timezone"]; ok {
		str, ok := tz.(string)
		if !ok {
			return s, fmt.Errorf("%w: timezone must be a string, got %T", ErrBadSettings, tz)
		}
		s.Timezone = str
	}

	if raw, ok := config["job_defaults"]; ok {
		defaults, ok := toStringMap(raw)
		if !ok {
			return s, fmt.Errorf("%w: job_defaults must be a mapping, got %T", ErrBadSettings, raw)
		}
		if err := parseJobDefaults(defaults, &s.JobDefaults); err != nil {
			return s, err
		}
	}

	for _, section := range []struct {
		key  string
		dest map[string]ComponentConfig
	}{
		{"stores", s.Stores},
		{"executors", s.Executors},
	} {
		raw, ok := config[section.key]
		if !ok {
			continue
		}
		byAlias, ok := toStringMap(raw)
		if !ok {
			return s, fmt.Errorf("%w: %s must be a mapping, got %T", ErrBadSettings, section.key, raw)
		}
		for alias, rawComponent := range byAlias {
			component, ok := toStringMap(rawComponent)
			if !ok {
				return s, fmt.Errorf("%w: %s[%q] must be a mapping, got %T", ErrBadSettings, section.key, alias, rawComponent)
			}
			cc, err := parseComponent(section.key, alias, component)
			if err != nil {
				return s, err
			}
			section.dest[alias] = cc
		}
	}

	return s, nil
}

func parseComponent(section, alias string, component map[string]any) (ComponentConfig, error) {
	cc := ComponentConfig{Args: make(map[string]any)}
	for k, v := range component {
		if k == "type" {
			str, ok := v.(string)
			if !ok {
				return cc, fmt.Errorf("%w: %s[%q].type must be a string, got %T", ErrBadSettings, section, alias, v)
			}
			cc.Type = str
			continue
		}
		cc.Args[k] = v
	}
	if cc.Type == "" {
		return cc, fmt.Errorf("%w: %s[%q] has no type", ErrBadSettings, section, alias)
	}
	return cc, nil
}

func parseJobDefaults(m map[string]any, out *JobDefaults) error {
	if raw, ok := m["misfire_grace_time"]; ok {
		d, err := toDuration(raw)
		if err != nil {
			return fmt.Errorf("%w: job_defaults.misfire_grace_time: %v", ErrBadSettings, err)
		}
		out.MisfireGrace = d
	}
	if raw, ok := m["coalesce"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("%w: job_defaults.coalesce must be a bool, got %T", ErrBadSettings, raw)
		}
		out.Coalesce = b
	}
	if raw, ok := m["max_instances"]; ok {
		n, err := toInt(raw)
		if err != nil {
			return fmt.Errorf("%w: job_defaults.max_instances: %v", ErrBadSettings, err)
		}
		if n < 1 {
			return fmt.Errorf("%w: job_defaults.max_instances must be >= 1, got %d", ErrBadSettings, n)
		}
		out.MaxInstances = n
	}
	return nil
}

// toDuration accepts Go duration strings ("30s") and bare numbers, which
// are read as seconds for compatibility with the flat settings form.
func toDuration(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("cannot read %T as duration", value)
	}
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("cannot read %T as int", value)
	}
}

// LoadSettings decodes YAML into Settings. Both the nested and the
// dotted-key layout are accepted.
func LoadSettings(data []byte) (Settings, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrBadSettings, err)
	}
	return SettingsFromMap(raw)
}
