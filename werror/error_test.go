package werror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

func level2(id int) error {
	return WrapWithContext(errTest, map[string]interface{}{"id": id})
}

func level1a() error {
	return Wrap(level2(1))
}

func level1b() error {
	return Wrap(level2(2))
}

func TestWrapRecordsCallSite(t *testing.T) {
	t.Parallel()

	err := level1a()
	require.ErrorIs(t, err, errTest)
	require.Contains(t, err.Error(), "werror.level1a")
	require.Contains(t, err.Error(), "werror.level2")
	require.Contains(t, err.Error(), "{id=1}")
	require.Contains(t, err.Error(), "->test error")

	err = level1b()
	require.Contains(t, err.Error(), "{id=2}")
}

func TestWrapNilIsNil(t *testing.T) {
	t.Parallel()

	require.NoError(t, Wrap(nil))
	require.NoError(t, WrapWithContext(nil, map[string]interface{}{"x": 1}))
	require.NoError(t, WrapWithMsg(nil, "msg"))
}

func TestWrapWithMsg(t *testing.T) {
	t.Parallel()

	err := WrapWithMsg(errTest, "exposing batch failed")
	require.Contains(t, err.Error(), "msg=exposing batch failed")
	require.Contains(t, err.Error(), "test error")
}
