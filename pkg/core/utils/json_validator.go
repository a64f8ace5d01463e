package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// Strategy names the parser that accepted an input.
type Strategy string

const (
	StrategyJSON     Strategy = "json"
	StrategyRepaired Strategy = "json_repair"
	StrategyHJSON    Strategy = "hjson"
)

var dateOnly = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// RepairJSON fixes the usual hand-edit damage: single quotes, trailing commas,
// unquoted keys, comments, unclosed brackets and surrounding code fences.
func RepairJSON(malformed string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformed)
	if err != nil {
		return "", fmt.Errorf("JSON_REPAIR_FAILED: %v", err)
	}
	return repaired, nil
}

// ParseHJSON converts Hjson (comments, unquoted strings, optional commas) to
// standard JSON.
func ParseHJSON(data string) (string, error) {
	var out interface{}
	if err := hjson.Unmarshal([]byte(data), &out); err != nil {
		return "", fmt.Errorf("HJSON_PARSE_ERROR: %v", err)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("JSON_MARSHAL_ERROR: %v", err)
	}
	return string(b), nil
}

// SmartParse decodes a request document into v, trying in order:
//  1. standard JSON
//  2. Hjson, which either reads the document exactly or rejects it
//  3. JSON repair, last because it guesses
//
// Values of keys ending in "_date" written as YYYY-MM-DD are widened to
// midnight UTC so they decode into time.Time.
func SmartParse(input []byte, v interface{}) (Strategy, error) {
	return parse(input, v, true)
}

// ParseExact accepts only input that reads as written, as JSON or Hjson.
// Input that would need repair, such as a truncated document, is rejected.
func ParseExact(input []byte, v interface{}) (Strategy, error) {
	return parse(input, v, false)
}

func parse(input []byte, v interface{}, repair bool) (Strategy, error) {
	var lastErr error
	try := func(doc []byte) bool {
		doc, err := NormalizeDates(doc)
		if err != nil {
			lastErr = err
			return false
		}
		if err := json.Unmarshal(doc, v); err != nil {
			lastErr = err
			return false
		}
		return true
	}

	if try(input) {
		return StrategyJSON, nil
	}
	if converted, err := ParseHJSON(string(input)); err == nil && try([]byte(converted)) {
		return StrategyHJSON, nil
	}
	if !repair {
		return "", fmt.Errorf("input is neither complete JSON nor Hjson: %v", lastErr)
	}
	if repaired, err := RepairJSON(string(input)); err == nil && try([]byte(repaired)) {
		return StrategyRepaired, nil
	}
	return "", fmt.Errorf("SMART_PARSE_FAILED: all parsing strategies failed: %v", lastErr)
}

// NormalizeDates rewrites date-only strings under "*_date" keys to RFC 3339.
// Input that is not valid JSON is returned as an error untouched.
func NormalizeDates(doc []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var tree interface{}
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if !widenDates(tree) {
		return doc, nil
	}
	return json.Marshal(tree)
}

func widenDates(node interface{}) bool {
	changed := false
	switch n := node.(type) {
	case map[string]interface{}:
		for k, v := range n {
			if s, ok := v.(string); ok && strings.HasSuffix(k, "_date") && dateOnly.MatchString(s) {
				n[k] = s + "T00:00:00Z"
				changed = true
				continue
			}
			if widenDates(v) {
				changed = true
			}
		}
	case []interface{}:
		for _, v := range n {
			if widenDates(v) {
				changed = true
			}
		}
	}
	return changed
}
