package signalhandler

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSetupHandler_CancelReleasesWatcher(t *testing.T) {
	ctx, cancel := SetupHandler(context.Background())
	assert.NoError(t, ctx.Err())

	cancel()
	cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestSetupHandler_ParentCancel(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	ctx, cancel := SetupHandler(parent)
	defer cancel()

	cancelParent()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled with parent")
	}
}

func TestSetupHandler_Signal(t *testing.T) {
	ctx, cancel := SetupHandler(context.Background())
	defer cancel()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by SIGTERM")
	}
}
