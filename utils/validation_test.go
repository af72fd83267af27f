package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testQuery struct {
	Query     string  `json:"query" validate:"required,notblank,max=20"`
	SessionID *string `json:"session_id,omitempty" validate:"omitempty,max=8"`
}

type testLogin struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

func TestValidateStruct(t *testing.T) {
	t.Run("valid struct", func(t *testing.T) {
		err := ValidateStruct(&testQuery{Query: "What is ROS?"})
		assert.NoError(t, err)
	})

	t.Run("missing required field uses json name", func(t *testing.T) {
		err := ValidateStruct(&testQuery{})
		require.Error(t, err)
		assert.True(t, IsValidationError(err))

		fields := GetValidationFields(err)
		assert.Equal(t, "query is required", fields["query"])
	})

	t.Run("whitespace only is blank", func(t *testing.T) {
		err := ValidateStruct(&testQuery{Query: "   \n\t"})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Equal(t, "query cannot be empty", fields["query"])
	})

	t.Run("too long", func(t *testing.T) {
		err := ValidateStruct(&testQuery{Query: "this query is far too long for the limit"})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Equal(t, "query must be at most 20", fields["query"])
	})

	t.Run("optional pointer field", func(t *testing.T) {
		long := "a-very-long-session"
		err := ValidateStruct(&testQuery{Query: "ok", SessionID: &long})
		require.Error(t, err)
		assert.Contains(t, GetValidationFields(err), "session_id")
	})

	t.Run("form tag names", func(t *testing.T) {
		err := ValidateStruct(&testLogin{})
		require.Error(t, err)

		fields := GetValidationFields(err)
		assert.Contains(t, fields, "username")
		assert.Contains(t, fields, "password")
	})
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Message: "Test validation error",
		Fields:  map[string]string{"field1": "error1"},
	}

	assert.Equal(t, "Test validation error", err.Error())
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(&ValidationError{Message: "test"}))
	assert.False(t, IsValidationError(assert.AnError))
}

func TestFieldDetails(t *testing.T) {
	t.Run("converts fields", func(t *testing.T) {
		err := &ValidationError{
			Message: "test",
			Fields:  map[string]string{"query": "query is required"},
		}

		details := FieldDetails(err)
		assert.Equal(t, map[string]interface{}{"query": "query is required"}, details)
	})

	t.Run("nil for other errors", func(t *testing.T) {
		assert.Nil(t, FieldDetails(assert.AnError))
	})
}

func TestValidateOneOf(t *testing.T) {
	allowed := []string{"sqlite", "postgres"}

	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{"sqlite", "sqlite", false},
		{"postgres", "postgres", false},
		{"unknown", "chroma", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOneOf(tt.value, "VECTOR_STORE", allowed)
			if tt.wantError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "VECTOR_STORE")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
