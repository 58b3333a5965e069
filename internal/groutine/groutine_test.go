package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_NamesContext(t *testing.T) {
	names := make(chan string, 1)
	Go(nil, "lane-1", func(ctx context.Context) { //nolint:staticcheck // nil parent is supported
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "lane-1", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoSafe_RecoversPanic(t *testing.T) {
	type report struct {
		name  string
		value any
		stack []byte
	}
	reports := make(chan report, 1)

	GoSafe(context.Background(), "boom", func(name string, r any, stack []byte) {
		reports <- report{name, r, stack}
	}, func(context.Context) {
		panic("bad payload")
	})

	select {
	case r := <-reports:
		assert.Equal(t, "boom", r.name)
		assert.Equal(t, "bad payload", r.value)
		assert.NotEmpty(t, r.stack)
	case <-time.After(time.Second):
		t.Fatal("panic was not reported")
	}
}

func TestGetName(t *testing.T) {
	assert.Empty(t, GetName(nil)) //nolint:staticcheck
	assert.Empty(t, GetName(context.Background()))

	err := &PanicError{Name: "worker", Recovered: "oops"}
	require.EqualError(t, err, `goroutine "worker" panicked: oops`)
}
