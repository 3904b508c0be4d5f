package patch

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/itiky/collaborate-doc/model"
)

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// Validate returns a *model.RangeError for the first number outside of the safe integer range.
func Validate(p model.Patch, dir model.Direction) error {
	for _, op := range p {
		if !op.Op.HasValue() {
			continue
		}
		if err := validateValue(op.Value, op.Path, dir); err != nil {
			return err
		}
	}

	return nil
}

// ValidateDocument validates a whole document, paths are relative to its root.
func ValidateDocument(doc interface{}, dir model.Direction) error {
	return validateValue(doc, "", dir)
}

// validateValue walks structured values, object keys are visited in sorted order.
func validateValue(v interface{}, path string, dir model.Direction) error {
	switch value := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			if err := validateValue(value[key], path+"/"+pointerEscaper.Replace(key), dir); err != nil {
				return err
			}
		}
	case model.Document:
		return validateValue(map[string]interface{}(value), path, dir)
	case []interface{}:
		for i, item := range value {
			if err := validateValue(item, path+"/"+strconv.Itoa(i), dir); err != nil {
				return err
			}
		}
	default:
		if !isSafeNumber(v) {
			return &model.RangeError{Value: v, Path: path, Direction: dir}
		}
	}

	return nil
}

// isSafeNumber returns true for non-numbers and numbers within [MinSafeInteger, MaxSafeInteger].
func isSafeNumber(v interface{}) bool {
	switch n := v.(type) {
	case float64:
		return math.Abs(n) <= model.MaxSafeInteger
	case float32:
		return math.Abs(float64(n)) <= model.MaxSafeInteger
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i >= model.MinSafeInteger && i <= model.MaxSafeInteger
		}
		f, err := n.Float64()
		if err != nil {
			// out of float64 range
			return false
		}
		return math.Abs(f) <= model.MaxSafeInteger
	case int:
		return int64(n) >= model.MinSafeInteger && int64(n) <= model.MaxSafeInteger
	case int64:
		return n >= model.MinSafeInteger && n <= model.MaxSafeInteger
	case uint:
		return uint64(n) <= model.MaxSafeInteger
	case uint64:
		return n <= model.MaxSafeInteger
	}

	// int8-int32 / uint8-uint32 always fit
	return true
}
