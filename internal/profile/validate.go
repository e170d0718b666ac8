// Package profile validates the settings a user can edit.
package profile

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MegaGrindStone/poolsight/internal/models"
)

// Field names used as keys in the errors returned by ValidatePool.
const (
	FieldPoolType = "poolType"
	FieldPoolSize = "poolSize"
	FieldLocation = "location"
)

const (
	minNicknameLength = 2
	maxNicknameLength = 50
)

var (
	// ErrNicknameRequired is returned for an empty nickname.
	ErrNicknameRequired = errors.New("nickname is required")
	// ErrNicknameTooShort is returned for a nickname under two characters.
	ErrNicknameTooShort = errors.New("nickname must be at least 2 characters long")
	// ErrNicknameTooLong is returned for a nickname over fifty characters.
	ErrNicknameTooLong = errors.New("nickname must be less than 50 characters")
)

// ValidatePool checks pool settings and returns a message per invalid field. An empty map means the
// settings are valid.
func ValidatePool(p models.PoolSettings) map[string]string {
	errs := make(map[string]string)

	if p.PoolType == "" {
		errs[FieldPoolType] = "Pool type is required"
	}
	if p.PoolSize == "" {
		errs[FieldPoolSize] = "Pool size is required"
	}
	if p.Location == "" {
		errs[FieldLocation] = "Location is required"
	}

	if p.PoolSize == "large" {
		switch p.Location {
		case "rooftop":
			errs[FieldLocation] = "Rooftop pools cannot be large size"
			errs[FieldPoolSize] = "Large pools cannot be on rooftops"
		case "indoor":
			errs[FieldPoolSize] = "Large pools are not recommended for indoor locations"
		}
	}

	return errs
}

// ValidateNickname checks a nickname after trimming surrounding space.
func ValidateNickname(nickname string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(nickname))
	switch {
	case n == 0:
		return ErrNicknameRequired
	case n < minNicknameLength:
		return ErrNicknameTooShort
	case n > maxNicknameLength:
		return ErrNicknameTooLong
	}
	return nil
}

// FormatName capitalizes the first letter of every space-separated word.
func FormatName(name string) string {
	words := strings.Split(name, " ")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// Option is a selectable pool setting value.
type Option struct {
	Value string
	Label string
}

// Selectable pool settings, in display order.
var (
	PoolTypes = []Option{
		{Value: "lap", Label: "Lap"},
		{Value: "recreational", Label: "Recreational"},
		{Value: "infinity", Label: "Infinity"},
		{Value: "kids", Label: "Kids"},
		{Value: "spa", Label: "Spa/Hot Tub"},
	}
	PoolSizes = []Option{
		{Value: "small", Label: "Small (≤10m)"},
		{Value: "medium", Label: "Medium (10–20m)"},
		{Value: "large", Label: "Large (20–30m)"},
		{Value: "custom", Label: "Custom"},
	}
	Locations = []Option{
		{Value: "indoor", Label: "Indoor"},
		{Value: "outdoor", Label: "Outdoor"},
		{Value: "rooftop", Label: "Rooftop"},
		{Value: "backyard", Label: "Backyard"},
	}
)
