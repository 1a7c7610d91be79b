package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	base := errors.New("connection refused")

	assert.Equal(t, "bad value", New(InvalidAttributeValue, "bad value").Error())
	assert.Equal(t, "install failed: connection refused", Wrap(ServiceApplyFailed, base, "install failed").Error())
	assert.Equal(t, "RollbackFailed", (&Error{Kind: RollbackFailed}).Error())
}

func TestError_IsAndKindOf(t *testing.T) {
	err := fmt.Errorf("step failed: %w", New(DuplicateResource, "resource /server=a already exists"))

	assert.True(t, errors.Is(err, DuplicateResource))
	assert.True(t, errors.Is(err, &Error{Kind: DuplicateResource}))
	assert.False(t, errors.Is(err, NoSuchResource))
	assert.Equal(t, DuplicateResource, KindOf(err))

	assert.Equal(t, ServiceApplyFailed, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("disk full")
	err := Wrap(PersistenceFailed, base, "writing model")
	require.ErrorIs(t, err, base)
}

func TestCategoryOf(t *testing.T) {
	testCases := []struct {
		kind     Kind
		expected Category
	}{
		{InvalidAttributeValue, CategoryValidation},
		{AlternativeAttributeConflict, CategoryValidation},
		{ServiceApplyFailed, CategoryRuntimeApply},
		{ConcurrentModification, CategoryConcurrentModification},
		{ConfigurationInconsistency, CategoryInconsistency},
		{RollbackFailed, CategoryFatal},
	}
	for _, tc := range testCases {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.expected, CategoryOf(tc.kind))
		})
	}
	assert.Equal(t, "fatal", CategoryFatal.String())
}
