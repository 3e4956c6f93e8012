// Convenience utilities for testing.
package testutils

import (
	"fmt"
	"os"
	"path"
	"reflect"
	"runtime"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

// SkipIfShort causes the test to be skipped when running with -short.
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping test with -short")
	}
}

// AssertDeepEqual fails the test if the two objects do not pass reflect.DeepEqual.
func AssertDeepEqual(t *testing.T, a, b interface{}) {
	if !reflect.DeepEqual(a, b) {
		require.FailNow(t, fmt.Sprintf("Objects do not match: \na:\n%s\n\nb:\n%s\n", spew.Sprint(a), spew.Sprint(b)))
	}
}

// TestDataDir returns the path to the caller's testdata directory, which
// is assumed to be "<path to caller dir>/testdata".
func TestDataDir(t *testing.T) string {
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok, "runtime.Caller() failed")
	for skip := 0; ; skip++ {
		_, file, _, ok := runtime.Caller(skip)
		require.True(t, ok, "runtime.Caller() failed")
		if file != thisFile {
			return path.Join(path.Dir(file), "testdata")
		}
	}
}

// ReadFile reads a file from the caller's testdata directory.
func ReadFile(t *testing.T, filename string) string {
	b, err := os.ReadFile(path.Join(TestDataDir(t), filename))
	require.NoError(t, err, "Could not read %s", filename)
	return string(b)
}
