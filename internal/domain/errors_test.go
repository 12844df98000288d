package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Format(t *testing.T) {
	base := errors.New("connection refused")

	e := OCRError("page 3 failed", base)
	assert.Equal(t, "[ocr] page 3 failed: connection refused", e.Error())

	bare := ConfigError("missing credentials", nil)
	assert.Equal(t, "[config] missing credentials", bare.Error())
}

func TestError_Unwrap(t *testing.T) {
	base := errors.New("boom")
	e := ConversionError("libreoffice failed", base)

	assert.ErrorIs(t, e, base)

	wrapped := fmt.Errorf("stage failed: %w", e)
	var de *Error
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, KindConversion, de.Kind)
}

func TestIsKind(t *testing.T) {
	e := fmt.Errorf("outer: %w", SchemaError("not an object", nil))

	assert.True(t, IsKind(e, KindSchema))
	assert.False(t, IsKind(e, KindOCR))
	assert.False(t, IsKind(errors.New("plain"), KindSchema))
	assert.False(t, IsKind(nil, KindSchema))
}
