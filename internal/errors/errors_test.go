package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"trialsynth/domain/core"
)

func TestWrap_DerivesCodeFromDomainError(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{core.NewInsufficientDataError("reference", 1, 2), CodeInsufficientData},
		{fmt.Errorf("fit: %w", core.ErrSingularCorrelation), CodeSingularCorrelation},
		{core.NewInvalidRequestError("seed", "bad"), CodeInvalidInput},
		{core.NewUnknownStrategyError("gan"), CodeInvalidInput},
		{stderrors.New("boom"), CodeGenerationError},
	}
	for _, tc := range cases {
		wrapped := Wrap(tc.err, "generate")
		assert.Equal(t, tc.code, GetCode(wrapped), tc.err.Error())
		assert.ErrorIs(t, wrapped, tc.err)
	}
}

func TestWrap_KeepsInnerCode(t *testing.T) {
	inner := SinkError(3, context.Canceled)
	outer := Wrapf(inner, "batch %s", "run")
	assert.Equal(t, CodeSinkError, GetCode(outer))
	assert.ErrorIs(t, outer, context.Canceled)
	assert.Contains(t, outer.Error(), "writing chunk 3")
}

func TestWithCodeAndHelpers(t *testing.T) {
	assert.Nil(t, Wrap(nil, "x"))
	assert.Nil(t, WithCode(CodeCanceled, nil))

	err := WithCode(CodeCanceled, context.Canceled)
	assert.True(t, IsAppError(err))
	assert.Equal(t, CodeCanceled, GetCode(err))
	assert.Equal(t, "UNKNOWN", GetCode(stderrors.New("plain")))
	assert.Equal(t, "bad config", ConfigInvalid("bad config").Error())
}
