package s3store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	"github.com/superdoc-dev/docx-corpus/internal/blobstore"
)

// mockAPIError implements smithy.APIError for testing error code mapping.
type mockAPIError struct {
	code string
}

func (e *mockAPIError) Error() string                 { return fmt.Sprintf("mock: %s", e.code) }
func (e *mockAPIError) ErrorCode() string             { return e.code }
func (e *mockAPIError) ErrorMessage() string          { return e.code }
func (e *mockAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultUnknown }

var _ smithy.APIError = (*mockAPIError)(nil)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"empty bucket", Config{}, "bucket name is required"},
		{"valid minimal", Config{Bucket: "docs"}, ""},
		{"mismatched credentials", Config{Bucket: "docs", AccessKeyID: "k"}, "must be provided together"},
		{"valid with both credentials", Config{Bucket: "docs", AccessKeyID: "k", SecretAccessKey: "s"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestResolveRegion(t *testing.T) {
	assert.Equal(t, "eu-west-1", resolveRegion("eu-west-1", "", "eu-west-1"))
	assert.Equal(t, DefaultAWSRegion, resolveRegion("", "", ""))
	assert.Equal(t, "", resolveRegion("", "https://r2.example.com", ""))
}

func TestClampMaxKeys(t *testing.T) {
	assert.Equal(t, DefaultMaxKeys, clampMaxKeys(0, DefaultMaxKeys))
	assert.Equal(t, 10, clampMaxKeys(10, DefaultMaxKeys))
	assert.Equal(t, MaxAllowedKeys, clampMaxKeys(5000, DefaultMaxKeys))
}

func TestIsNotFoundMatchesAPIErrorCode(t *testing.T) {
	assert.True(t, isNotFound(&mockAPIError{code: "NoSuchKey"}))
	assert.False(t, isNotFound(&mockAPIError{code: "AccessDenied"}))
}

func TestWrapErrorMapsAccessDenied(t *testing.T) {
	s := &Store{bucket: "docs"}
	err := s.wrapError("Read", "documents/x.docx", &mockAPIError{code: "AccessDenied"})

	assert.True(t, errors.Is(err, blobstore.ErrAccessDenied))
}
