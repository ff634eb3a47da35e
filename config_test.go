package workq

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultConfig(t *testing.T) {
	want := Config{
		SpinWindow: DefaultSpinWindow,
		MaxItems:   DefaultMaxItems,
	}
	got := DefaultConfig()

	diff := cmp.Diff(want, got,
		cmpopts.IgnoreFields(Config{}, "Logger"),
		cmpopts.IgnoreUnexported(Config{}),
	)
	assert.Empty(t, diff)
	assert.NotNil(t, got.newEvent)
}

func TestWorkerCount(t *testing.T) {
	tests := []struct {
		name       string
		flags      Flags
		processors int
		want       int
	}{
		{"single cpu", 0, 1, 0},
		{"single cpu io", FlagIO, 1, 1},
		{"single cpu multi", FlagMulti, 1, 0},
		{"single cpu io multi", FlagIO | FlagMulti, 1, 1},
		{"dual cpu", 0, 2, 1},
		{"dual cpu multi", FlagMulti, 2, 1},
		{"octa cpu", FlagIO, 8, 1},
		{"octa cpu multi", FlagMulti, 8, 7},
		{"capped", FlagMulti, 64, MaxWorkers},
		{"capped io multi", FlagIO | FlagMulti, 17, MaxWorkers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, workerCount(tt.flags, tt.processors))
		})
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		errors int
	}{
		{
			name:   "negative processors",
			opts:   []Option{WithProcessors(-1)},
			errors: 1,
		},
		{
			name:   "negative spin window",
			opts:   []Option{WithSpinWindow(-1)},
			errors: 1,
		},
		{
			name:   "zero max items",
			opts:   []Option{WithMaxItems(0)},
			errors: 1,
		},
		{
			name:   "max items over arena limit",
			opts:   []Option{WithMaxItems(maxArenaItems + 1)},
			errors: 1,
		},
		{
			name:   "everything wrong",
			opts:   []Option{WithProcessors(-2), WithSpinWindow(-1), WithMaxItems(-5)},
			errors: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := New(0, tt.opts...)
			require.Error(t, err)
			assert.Nil(t, q)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
			assert.Len(t, multierr.Errors(err), tt.errors)
		})
	}
}

func TestQueueError_Message(t *testing.T) {
	assert.Equal(t, "workq: allocation failed", ErrAllocation.Error())

	err := errInvalidConfig("MaxItems must be > 0")
	assert.Equal(t, "workq: invalid config: MaxItems must be > 0", err.Error())
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.NotErrorIs(t, err, ErrAllocation)

	wrapped := &QueueError{msg: "submit", err: ErrTimeout}
	assert.Equal(t, "workq: submit: workq: operation timed out", wrapped.Error())
	assert.ErrorIs(t, wrapped, ErrTimeout)
}
