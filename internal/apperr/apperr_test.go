package apperr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf_WrappedChain(t *testing.T) {
	inner := New(CodeConflict, "step already resolved")
	outer := fmt.Errorf("approving invoice: %w", inner)

	require.Equal(t, CodeConflict, CodeOf(outer))
	require.True(t, IsCode(outer, CodeConflict))
	require.False(t, IsCode(outer, CodeUnauthorized))
}

func TestCodeOf_UnknownDefaultsToInternal(t *testing.T) {
	require.Equal(t, CodeInternal, CodeOf(fmt.Errorf("plain error")))
}

func TestWithMeta_SurvivesWrapping(t *testing.T) {
	err := New(CodeConflict, "possible duplicate").
		WithMeta("duplicate_invoice_id", "inv-1").
		WithMeta("duplicate_status", "CONFIRMED")
	wrapped := fmt.Errorf("confirm: %w", err)

	meta := MetaOf(wrapped)
	require.Equal(t, "inv-1", meta["duplicate_invoice_id"])
	require.Equal(t, "CONFIRMED", meta["duplicate_status"])
}

func TestNotFound(t *testing.T) {
	err := NotFound("invoice", "abc")
	require.Equal(t, CodeNotFound, err.Code)
	require.Contains(t, err.Error(), `invoice "abc" not found`)
}
