// Package vercmp normalizes and orders upstream version strings.
package vercmp

import (
	"regexp"
	"strconv"
	"strings"
)

// Pre-release suffix priorities (lower = earlier in release cycle)
var suffixPriority = map[string]int{
	"alpha": -4,
	"beta":  -3,
	"pre":   -2,
	"rc":    -1,
	"":      0, // release version
	"p":     1, // patch
}

// suffixRegex matches trailing suffixes like -rc1, _beta2, .alpha, -p1
var suffixRegex = regexp.MustCompile(`(?i)[-_.]?(alpha|beta|pre|rc|p)\.?(\d*)$`)

// coreRegex matches the dotted (or underscored) numeric core of a version
var coreRegex = regexp.MustCompile(`\d+(?:[._]\d+)*`)

// normalizeRegex captures a numeric core followed by an optional pre-release suffix
var normalizeRegex = regexp.MustCompile(`(?i)^v?(\d+(?:[._]\d+)*)(?:[-_.]?(alpha|beta|pre|rc)\.?(\d*))?`)

// Normalize converts a raw upstream version into dotted numeric form when possible.
// "v1.2.0" -> "1.2.0", "1_2_0" -> "1.2.0", "V2.0-RC1" -> "2.0-rc1".
// Strings without a numeric core are returned trimmed but otherwise unchanged.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if m := normalizeRegex.FindStringSubmatch(s); m != nil {
		out := strings.ReplaceAll(m[1], "_", ".")
		if m[2] != "" {
			out += "-" + strings.ToLower(m[2]) + m[3]
		}
		return out
	}

	// Version embedded in text, e.g. "Release 19.0.1 (2024)"
	if core := coreRegex.FindString(s); core != "" {
		return strings.ReplaceAll(core, "_", ".")
	}

	return s
}

// IsDotted reports whether v is a plain dotted numeric version such as "1.2.3".
func IsDotted(v string) bool {
	if v == "" {
		return false
	}
	for _, part := range strings.Split(v, ".") {
		if part == "" {
			return false
		}
		if _, err := strconv.Atoi(part); err != nil {
			return false
		}
	}
	return true
}

// parse breaks a version string into numeric parts, suffix type and suffix number
func parse(v string) ([]int, string, int) {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "v"), "V")

	suffixType := ""
	suffixNum := 0
	if m := suffixRegex.FindStringSubmatch(v); m != nil {
		// Only treat it as a suffix if something numeric precedes it
		head := v[:len(v)-len(m[0])]
		if head != "" {
			suffixType = strings.ToLower(m[1])
			if m[2] != "" {
				suffixNum, _ = strconv.Atoi(m[2])
			}
			v = head
		}
	}

	v = strings.ReplaceAll(v, "_", ".")
	parts := strings.Split(v, ".")
	nums := make([]int, len(parts))
	for i, p := range parts {
		// Keep the leading digits only (e.g., 1.0a -> 1, 0)
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		if end > 0 {
			nums[i], _ = strconv.Atoi(p[:end])
		}
	}

	return nums, suffixType, suffixNum
}

// compareIntSlices compares two slices of integers, missing trailing parts count as 0
func compareIntSlices(a, b []int) int {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	for i := 0; i < maxLen; i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}

		if av < bv {
			return -1
		}
		if av > bv {
			return 1
		}
	}
	return 0
}

// Compare compares two version strings component by component as integers.
// Returns: -1 if v1 < v2, 0 if v1 == v2, 1 if v1 > v2
func Compare(v1, v2 string) int {
	nums1, suffix1, suffixNum1 := parse(v1)
	nums2, suffix2, suffixNum2 := parse(v2)

	if cmp := compareIntSlices(nums1, nums2); cmp != 0 {
		return cmp
	}

	// alpha < beta < pre < rc < release < p
	priority1 := suffixPriority[suffix1]
	priority2 := suffixPriority[suffix2]
	if priority1 < priority2 {
		return -1
	}
	if priority1 > priority2 {
		return 1
	}

	if suffixNum1 < suffixNum2 {
		return -1
	}
	if suffixNum1 > suffixNum2 {
		return 1
	}

	return 0
}

// Max returns the highest version in versions, or "" for an empty slice.
// On equal versions the first one wins.
func Max(versions []string) string {
	best := ""
	for i, v := range versions {
		if i == 0 || Compare(v, best) > 0 {
			best = v
		}
	}
	return best
}
