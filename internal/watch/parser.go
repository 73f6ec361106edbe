package watch

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/obentoo/switchdex/internal/common/vercmp"
)

// Error variables for parser errors
var (
	// ErrJSONPathNotFound is returned when the JSON path does not exist in the document
	ErrJSONPathNotFound = errors.New("JSON path not found in response")
	// ErrNoVersionFound is returned when no version could be extracted from a response
	ErrNoVersionFound = errors.New("could not extract version from response")
	// ErrInvalidJSONPath is returned when the JSON path syntax is invalid
	ErrInvalidJSONPath = errors.New("invalid JSON path syntax")
	// ErrInvalidRegexPattern is returned when a version pattern does not compile
	ErrInvalidRegexPattern = errors.New("invalid regex pattern")
)

// Parser defines the interface for version extraction from a fetched body.
type Parser interface {
	// Parse extracts the version and any release metadata from content.
	Parse(content []byte) (Parsed, error)
}

// Parsed is what a parser found in one body. Only Version is required.
type Parsed struct {
	Version     string
	ReleaseDate string
	URL         string
}

// DefaultVersionPatterns are tried in order, most specific first.
var DefaultVersionPatterns = []string{
	`(?i)system\s+update\s+version\s+v?([0-9]+\.[0-9]+\.[0-9]+)`,
	`(?i)\bversion\s+v?([0-9]+\.[0-9]+(?:\.[0-9]+)*)`,
	`(?i)([0-9]+\.[0-9]+\.[0-9]+)[^\n]*?system\s+update`,
	`(?i)firmware[^\n]*?([0-9]+\.[0-9]+\.[0-9]+)`,
	`\bv?([0-9]+\.[0-9]+\.[0-9]+)\b`,
}

var defaultExtractor = mustVersionExtractor(DefaultVersionPatterns)

// datePatterns match release dates as written on release pages
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},\s+\d{4}`),
	regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)\.?\s+\d{1,2},\s+\d{4}`),
	regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{4}\b`),
	regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`),
}

// VersionExtractor finds versions in free text using ordered patterns.
// The first pattern with any match wins; among its matches the highest version is returned.
type VersionExtractor struct {
	patterns []*regexp.Regexp
}

// NewVersionExtractor compiles patterns. An empty list selects DefaultVersionPatterns.
func NewVersionExtractor(patterns []string) (*VersionExtractor, error) {
	if len(patterns) == 0 {
		return defaultExtractor, nil
	}

	x := &VersionExtractor{patterns: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRegexPattern, err)
		}
		x.patterns = append(x.patterns, re)
	}
	return x, nil
}

func mustVersionExtractor(patterns []string) *VersionExtractor {
	x := &VersionExtractor{}
	for _, p := range patterns {
		x.patterns = append(x.patterns, regexp.MustCompile(p))
	}
	return x
}

// Extract returns the normalized maximum match of the first matching pattern.
func (x *VersionExtractor) Extract(text string) (string, error) {
	for _, re := range x.patterns {
		var found []string
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			raw := m[0]
			if len(m) > 1 && m[1] != "" {
				raw = m[1]
			}
			v := vercmp.Normalize(raw)
			if v != "" && strings.ContainsAny(v, "0123456789") {
				found = append(found, v)
			}
		}
		if len(found) > 0 {
			return vercmp.Max(found), nil
		}
	}
	return "", ErrNoVersionFound
}

// ExtractReleaseDate returns the first date found by the ordered date patterns, or "".
func ExtractReleaseDate(text string) string {
	for _, re := range datePatterns {
		if m := re.FindString(text); m != "" {
			return m
		}
	}
	return ""
}

// FormatReleaseDate renders a timestamp the way release pages write dates
func FormatReleaseDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("January 2, 2006")
}

// JSONParser extracts version using a JSON path.
// The path supports dot notation and array indexing (e.g., "notes[0].version").
type JSONParser struct {
	// Path is the JSON path to the version field (e.g., "notes[0].version", "tag_name")
	Path string
	// DatePath optionally locates the release date
	DatePath string
	// URLPath optionally locates a canonical link
	URLPath string
}

// Parse implements Parser. Missing date or link fields are not errors.
func (p *JSONParser) Parse(content []byte) (Parsed, error) {
	doc, err := DecodeJSON(content)
	if err != nil {
		return Parsed{}, err
	}
	raw, err := LookupJSON(doc, p.Path)
	if err != nil {
		return Parsed{}, err
	}
	version := vercmp.Normalize(raw)
	if !hasDigit(version) {
		return Parsed{}, fmt.Errorf("%w: %q", ErrNoVersionFound, raw)
	}

	out := Parsed{Version: version}
	if p.DatePath != "" {
		if date, err := LookupJSON(doc, p.DatePath); err == nil {
			out.ReleaseDate = normalizeDate(date)
		}
	}
	if p.URLPath != "" {
		if link, err := LookupJSON(doc, p.URLPath); err == nil {
			out.URL = link
		}
	}
	return out, nil
}

// DecodeJSON parses content into a generic document
func DecodeJSON(content []byte) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return data, nil
}

// LookupJSON navigates doc along path and returns the value as a string.
func LookupJSON(doc interface{}, path string) (string, error) {
	if path == "" {
		return "", ErrInvalidJSONPath
	}

	result, err := navigateJSONPath(doc, path)
	if err != nil {
		return "", err
	}

	s, ok := toString(result)
	if !ok {
		return "", fmt.Errorf("%w: value at %q is not a scalar", ErrJSONPathNotFound, path)
	}
	return s, nil
}

// navigateJSONPath navigates through JSON data following the given path.
// Supports dot notation (field.subfield) and array indexing (field[0]).
func navigateJSONPath(data interface{}, path string) (interface{}, error) {
	segments, err := parseJSONPath(path)
	if err != nil {
		return nil, err
	}

	current := data
	for _, seg := range segments {
		switch seg.segType {
		case segmentField:
			obj, ok := current.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected object at %q", ErrJSONPathNotFound, seg.value)
			}
			val, exists := obj[seg.value]
			if !exists {
				return nil, fmt.Errorf("%w: field %q not found", ErrJSONPathNotFound, seg.value)
			}
			current = val

		case segmentIndex:
			arr, ok := current.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: expected array at index %d", ErrJSONPathNotFound, seg.index)
			}
			if seg.index >= len(arr) {
				return nil, fmt.Errorf("%w: array index %d out of bounds (length %d)", ErrJSONPathNotFound, seg.index, len(arr))
			}
			current = arr[seg.index]
		}
	}

	return current, nil
}

type segmentType int

const (
	segmentField segmentType = iota
	segmentIndex
)

type pathSegment struct {
	segType segmentType
	value   string
	index   int
}

// parseJSONPath parses a JSON path string into segments.
// Examples: "version", "notes[0].version", "data.releases[0].tag"
func parseJSONPath(path string) ([]pathSegment, error) {
	var segments []pathSegment
	remaining := path

	for remaining != "" {
		remaining = strings.TrimPrefix(remaining, ".")
		if remaining == "" {
			break
		}

		if remaining[0] == '[' {
			return nil, fmt.Errorf("%w: unexpected '[' at start", ErrInvalidJSONPath)
		}

		// Field name runs until dot, bracket, or end
		fieldEnd := len(remaining)
		for i, c := range remaining {
			if c == '.' || c == '[' {
				fieldEnd = i
				break
			}
		}

		if fieldEnd == 0 {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidJSONPath)
		}
		segments = append(segments, pathSegment{segType: segmentField, value: remaining[:fieldEnd]})
		remaining = remaining[fieldEnd:]

		for strings.HasPrefix(remaining, "[") {
			closeBracket := strings.Index(remaining, "]")
			if closeBracket == -1 {
				return nil, fmt.Errorf("%w: unclosed bracket", ErrInvalidJSONPath)
			}

			indexStr := remaining[1:closeBracket]
			index, err := strconv.Atoi(indexStr)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid array index %q", ErrInvalidJSONPath, indexStr)
			}
			if index < 0 {
				return nil, fmt.Errorf("%w: negative array index", ErrInvalidJSONPath)
			}

			segments = append(segments, pathSegment{segType: segmentIndex, index: index})
			remaining = remaining[closeBracket+1:]
		}
	}

	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidJSONPath)
	}

	return segments, nil
}

// toString converts a scalar JSON value to a string
func toString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		// JSON numbers are float64
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10), true
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return "", false
	}
}
