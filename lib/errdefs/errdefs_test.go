package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCategoriesSurviveWrapping(t *testing.T) {
	sentinel := fmt.Errorf("%w: shasum mismatch", ErrIntegrity)
	wrapped := fmt.Errorf("install /tmp/x.img: %w", sentinel)

	require.ErrorIs(t, wrapped, sentinel)
	require.ErrorIs(t, wrapped, ErrIntegrity)
	require.False(t, errors.Is(wrapped, ErrFormat))
}
