package profile_test

import (
	"errors"
	"maps"
	"strings"
	"testing"

	"github.com/MegaGrindStone/poolsight/internal/models"
	"github.com/MegaGrindStone/poolsight/internal/profile"
)

func TestValidatePool(t *testing.T) {
	tests := []struct {
		name     string
		settings models.PoolSettings
		want     map[string]string
	}{
		{
			name:     "Valid",
			settings: models.PoolSettings{PoolType: "chlorine", PoolSize: "medium", Location: "outdoor"},
			want:     map[string]string{},
		},
		{
			name:     "Missing everything",
			settings: models.PoolSettings{},
			want: map[string]string{
				profile.FieldPoolType: "Pool type is required",
				profile.FieldPoolSize: "Pool size is required",
				profile.FieldLocation: "Location is required",
			},
		},
		{
			name:     "Large rooftop",
			settings: models.PoolSettings{PoolType: "salt", PoolSize: "large", Location: "rooftop"},
			want: map[string]string{
				profile.FieldLocation: "Rooftop pools cannot be large size",
				profile.FieldPoolSize: "Large pools cannot be on rooftops",
			},
		},
		{
			name:     "Large indoor",
			settings: models.PoolSettings{PoolType: "salt", PoolSize: "large", Location: "indoor"},
			want: map[string]string{
				profile.FieldPoolSize: "Large pools are not recommended for indoor locations",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := profile.ValidatePool(tt.settings); !maps.Equal(got, tt.want) {
				t.Errorf("ValidatePool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateNickname(t *testing.T) {
	tests := []struct {
		nickname string
		want     error
	}{
		{"", profile.ErrNicknameRequired},
		{"   ", profile.ErrNicknameRequired},
		{"a", profile.ErrNicknameTooShort},
		{"Ege", nil},
		{" Ege ", nil},
		{strings.Repeat("x", 50), nil},
		{strings.Repeat("x", 51), profile.ErrNicknameTooLong},
	}

	for _, tt := range tests {
		if err := profile.ValidateNickname(tt.nickname); !errors.Is(err, tt.want) {
			t.Errorf("ValidateNickname(%q) = %v, want %v", tt.nickname, err, tt.want)
		}
	}
}

func TestFormatName(t *testing.T) {
	tests := map[string]string{
		"ege sumer":  "Ege Sumer",
		"Ege":        "Ege",
		"":           "",
		"çağla  nur": "Çağla  Nur",
	}
	for in, want := range tests {
		if got := profile.FormatName(in); got != want {
			t.Errorf("FormatName(%q) = %q, want %q", in, got, want)
		}
	}
}
