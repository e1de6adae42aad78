package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err  error
		kind error
	}{
		{ErrNotMember, ErrForbidden},
		{ErrNotAuthor, ErrForbidden},
		{ErrMessageNotFound, ErrNotFound},
		{ErrSelfMessage, ErrConflict},
		{validationError("bad", "سيء"), ErrValidation},
		{storeError(errors.New("connection reset")), ErrTransient},
		{fmt.Errorf("wrapped: %w", ErrAlreadyMember), ErrConflict},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, tt.err, tt.kind, tt.err.Error())
	}

	assert.NotErrorIs(t, ErrNotMember, ErrNotAuthor)
	assert.NotErrorIs(t, ErrNotMember, ErrNotFound)
}

func TestStoreError(t *testing.T) {
	assert.NoError(t, storeError(nil))
	assert.ErrorIs(t, storeError(gorm.ErrRecordNotFound), ErrNotFound)

	cause := errors.New("dial tcp: refused")
	err := storeError(cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Equal(t, RetryPrompt.Message, AsError(err).Message)
}

func TestAsError_Unclassified(t *testing.T) {
	e := AsError(errors.New("boom"))
	assert.Equal(t, KindTransient, e.Kind)
	assert.Equal(t, "حدث خطأ ما، يرجى المحاولة مرة أخرى", e.Localized(true))
	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
}
