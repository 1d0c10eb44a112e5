package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Name  string `json:"name" validate:"required"`
	Kind  string `json:"kind" validate:"omitempty,oneof=a b"`
	Count int    `json:"count" validate:"gt=0"`
}

func TestValidateStruct(t *testing.T) {
	assert.NoError(t, ValidateStruct(&sample{Name: "x", Kind: "a", Count: 1}))

	err := ValidateStruct(&sample{Kind: "c", Count: 0})
	if assert.Error(t, err) {
		assert.Contains(t, err.Error(), "name is required")
		assert.Contains(t, err.Error(), "kind must be one of [a b]")
		assert.Contains(t, err.Error(), "count must be greater than 0")
	}
}

func TestMissingRequired(t *testing.T) {
	assert.True(t, MissingRequired(&sample{Count: 1}))
	assert.False(t, MissingRequired(&sample{Count: 0}), "gt failure is not a missing field")
	assert.False(t, MissingRequired(&sample{Name: "x", Count: 1}), "valid struct has nothing missing")
}
