package quota

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// SelectorAllLiteral is the config spelling that selects the whole namespace.
const SelectorAllLiteral = "all"

// Selector names which quota keys a schedule polls: the whole known
// namespace, or an explicit list. The zero value selects nothing and is
// invalid; build one with SelectAll, SelectKeys or ParseSelector.
type Selector struct {
	all  bool
	keys []string
}

func SelectAll() Selector {
	return Selector{all: true}
}

// SelectKeys builds an explicit selector. Keys outside the known namespace
// are rejected so a schedule can never ingest readings the store would not
// recognize.
func SelectKeys(keys ...string) (Selector, error) {
	if len(keys) == 0 {
		return Selector{}, fmt.Errorf("metric selector needs at least one key")
	}
	for _, key := range keys {
		if !IsKnownKey(key) {
			return Selector{}, fmt.Errorf("unknown quota key %q", key)
		}
	}
	return Selector{keys: slices.Clone(keys)}, nil
}

// ParseSelector accepts the two config shapes for a schedule's metrics
// field: the literal "all", or a list of quota keys.
func ParseSelector(raw any) (Selector, error) {
	switch v := raw.(type) {
	case string:
		if v == SelectorAllLiteral {
			return SelectAll(), nil
		}
		return Selector{}, fmt.Errorf("metric selector string must be %q, got %q", SelectorAllLiteral, v)
	case []string:
		return SelectKeys(v...)
	case []any:
		keys := make([]string, 0, len(v))
		for _, item := range v {
			key, ok := item.(string)
			if !ok {
				return Selector{}, fmt.Errorf("metric selector entries must be strings, got %T", item)
			}
			keys = append(keys, key)
		}
		return SelectKeys(keys...)
	default:
		return Selector{}, fmt.Errorf("metric selector must be %q or a list of keys, got %T", SelectorAllLiteral, raw)
	}
}

func (s Selector) IsAll() bool {
	return s.all
}

func (s Selector) IsZero() bool {
	return !s.all && len(s.keys) == 0
}

// Resolve expands the selector into the concrete ordered key set a tick
// should request. "all" resolves against the known namespace at call time.
func (s Selector) Resolve() []string {
	if s.all {
		return Namespace()
	}
	return slices.Clone(s.keys)
}

func (s Selector) String() string {
	if s.all {
		return SelectorAllLiteral
	}
	return strings.Join(s.keys, ",")
}

func (s Selector) MarshalJSON() ([]byte, error) {
	if s.all {
		return json.Marshal(SelectorAllLiteral)
	}
	return json.Marshal(s.keys)
}

func (s *Selector) UnmarshalJSON(data []byte) error {
	var literal string
	if err := json.Unmarshal(data, &literal); err == nil {
		parsed, err := ParseSelector(literal)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("metric selector must be %q or a list of keys", SelectorAllLiteral)
	}
	parsed, err := SelectKeys(keys...)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
