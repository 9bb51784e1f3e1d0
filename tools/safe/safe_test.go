package safe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PRelay/tools/errs"
)

func TestRun_RecoversPanic(t *testing.T) {
	err := Run("test", func() { panic("boom") })
	require.Error(t, err)
	assert.True(t, errs.ErrInternal.Is(err))
}

func TestRun_NoPanic(t *testing.T) {
	called := false
	assert.NoError(t, Run("test", func() { called = true }))
	assert.True(t, called)
}

func TestGo(t *testing.T) {
	done := make(chan struct{})
	Go("test", func() {
		defer close(done)
		panic("boom")
	})
	<-done
}
