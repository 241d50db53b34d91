package rules

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

// checkParams rejects parameters the block does not understand.
func checkParams(params ir.Object, allowed ...string) error {
	for _, k := range params.SortedKeys() {
		if !slices.Contains(allowed, k) {
			return fmt.Errorf("unknown parameter %q (allowed: %s)", k, strings.Join(allowed, ", "))
		}
	}
	return nil
}

func requireString(params ir.Object, key string) (string, error) {
	if _, present := params[key]; !present {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	s, ok := params.GetString(key)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("parameter %q must not be blank", key)
	}
	return s, nil
}

func optionalString(params ir.Object, key, def string) (string, error) {
	if _, present := params[key]; !present {
		return def, nil
	}
	s, ok := params.GetString(key)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	return s, nil
}

func optionalInt(params ir.Object, key string) (int64, error) {
	if _, present := params[key]; !present {
		return 0, nil
	}
	n, ok := params.GetInt(key)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
	if n < 0 {
		return 0, fmt.Errorf("parameter %q must not be negative", key)
	}
	return n, nil
}

func oneOf(key, value string, allowed ...string) error {
	if !slices.Contains(allowed, value) {
		return fmt.Errorf("parameter %q must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
	}
	return nil
}
