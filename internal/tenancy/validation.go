package tenancy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/apperr"
)

const (
	maxNameLength     = 100
	minSlugLength     = 2
	maxSlugLength     = 63
	maxAttributeKeys  = 50
	maxStringValueLen = 1024
	slugPattern       = `^[a-z0-9]+(?:-[a-z0-9]+)*$`
)

var slugRegex = regexp.MustCompile(slugPattern)

var validTiers = []string{TierBasic, TierProfessional, TierEnterprise}

// ValidateName checks if an organization name is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", apperr.ErrInvalidInput)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", apperr.ErrInvalidInput, maxNameLength)
	}
	return nil
}

// ValidateSlug checks that slug is lowercase alphanumerics joined by single
// hyphens, 2 to 63 characters.
func ValidateSlug(slug string) error {
	if len(slug) < minSlugLength || len(slug) > maxSlugLength {
		return fmt.Errorf("%w: slug must be %d-%d characters", apperr.ErrInvalidInput, minSlugLength, maxSlugLength)
	}
	if !slugRegex.MatchString(slug) {
		return fmt.Errorf("%w: slug must be lowercase alphanumeric with hyphens", apperr.ErrInvalidInput)
	}
	return nil
}

// ValidateTier checks the subscription tier.
func ValidateTier(tier string) error {
	if !slices.Contains(validTiers, tier) {
		return fmt.Errorf("%w: unknown subscription tier %q", apperr.ErrInvalidInput, tier)
	}
	return nil
}

// Validate checks that a holds only scalar values within size limits.
func (a Attributes) Validate() error {
	if len(a) > maxAttributeKeys {
		return fmt.Errorf("%w: more than %d attribute keys", apperr.ErrInvalidInput, maxAttributeKeys)
	}
	for k, v := range a {
		if k == "" || len(k) > maxStringValueLen {
			return fmt.Errorf("%w: attribute key length out of range", apperr.ErrInvalidInput)
		}
		switch val := v.(type) {
		case nil, bool, int, int64, float64, json.Number:
		case string:
			if len(val) > maxStringValueLen {
				return fmt.Errorf("%w: attribute %q value too long", apperr.ErrInvalidInput, k)
			}
		default:
			return fmt.Errorf("%w: attribute %q must be a scalar, got %T", apperr.ErrInvalidInput, k, v)
		}
	}
	return nil
}

// merge applies patch onto a copy of a. Nil values delete keys.
func (a Attributes) merge(patch Attributes) Attributes {
	out := make(Attributes, len(a)+len(patch))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// EncodeAttributes returns the JSON column form of a. Empty maps encode as "{}".
func EncodeAttributes(a Attributes) (string, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encoding attributes: %w", err)
	}
	return string(b), nil
}

// DecodeAttributes parses a JSON column; the empty string yields an empty map.
func DecodeAttributes(s string) (Attributes, error) {
	if s == "" {
		return Attributes{}, nil
	}
	var a Attributes
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	if a == nil {
		a = Attributes{}
	}
	return a, nil
}
