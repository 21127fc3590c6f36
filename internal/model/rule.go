package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule binds an action to the messages it should run for.
// Matcher fields are OR within a field and AND across fields; a nil field means
// "don't care". Everything not recognized as a matcher is kept in Options and
// handed to the action.
type Rule struct {
	Options               map[string]any `mapstructure:",remain" yaml:",inline"`
	RequireSecurityChecks *bool          `mapstructure:"require_security_checks" yaml:"require_security_checks,omitempty"`
	Action                string         `mapstructure:"action" yaml:"action"`
	Name                  string         `mapstructure:"name" yaml:"name,omitempty"`
	From                  []string       `mapstructure:"from" yaml:"from,omitempty"`
	Subject               []string       `mapstructure:"subject" yaml:"subject,omitempty"`
	Body                  []string       `mapstructure:"body" yaml:"body,omitempty"`
}

// Label returns a human readable identifier for logs.
func (r Rule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Action
}

// HasMatchers reports whether the rule constrains at least one message field.
func (r Rule) HasMatchers() bool {
	return r.From != nil || r.Subject != nil || r.Body != nil
}

// SecurityChecksRequired reports whether header authentication must pass.
func (r Rule) SecurityChecksRequired() bool {
	return r.RequireSecurityChecks != nil && *r.RequireSecurityChecks
}

// WithDefaults returns a copy of r where unset fields are filled from def.
// Explicit values always win; option maps are merged recursively.
func (r Rule) WithDefaults(def Rule) Rule {
	merged := r
	if merged.Action == "" {
		merged.Action = def.Action
	}
	if merged.Name == "" {
		merged.Name = def.Name
	}
	if merged.From == nil {
		merged.From = cloneStrings(def.From)
	}
	if merged.Subject == nil {
		merged.Subject = cloneStrings(def.Subject)
	}
	if merged.Body == nil {
		merged.Body = cloneStrings(def.Body)
	}
	if merged.RequireSecurityChecks == nil && def.RequireSecurityChecks != nil {
		v := *def.RequireSecurityChecks
		merged.RequireSecurityChecks = &v
	}
	merged.Options = mergeOptions(r.Options, def.Options)
	return merged
}

func mergeOptions(explicit, defaults map[string]any) map[string]any {
	if explicit == nil && defaults == nil {
		return nil
	}
	out := make(map[string]any, len(explicit)+len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range explicit {
		em, eok := v.(map[string]any)
		dm, dok := out[k].(map[string]any)
		if eok && dok {
			out[k] = mergeOptions(em, dm)
			continue
		}
		out[k] = v
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// OptString returns a string option, or "" when absent.
func (r Rule) OptString(key string) string {
	v, ok := r.Options[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}

// OptFloat returns a numeric option. Strings are parsed; ok is false when absent or invalid.
func (r Rule) OptFloat(key string) (float64, bool) {
	v, ok := r.Options[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(n, ",", ".")), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// OptInt returns an integer option, truncating floats.
func (r Rule) OptInt(key string, fallback int) int {
	f, ok := r.OptFloat(key)
	if !ok {
		return fallback
	}
	return int(f)
}

// OptBool returns a boolean option and whether it was set.
func (r Rule) OptBool(key string) (bool, bool) {
	v, ok := r.Options[key]
	if !ok || v == nil {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return false, false
		}
		return parsed, true
	}
	return false, false
}

// OptStrings returns a list option; a single string becomes a one-element list.
func (r Rule) OptStrings(key string) []string {
	v, ok := r.Options[key]
	if !ok || v == nil {
		return nil
	}
	return ToStringList(v)
}

// ToStringList normalizes a matcher-like value into a list of strings.
func ToStringList(v any) []string {
	switch s := v.(type) {
	case nil:
		return nil
	case string:
		return []string{s}
	case []string:
		return cloneStrings(s)
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return []string{fmt.Sprint(s)}
	}
}
