package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalDeliversInOrder(t *testing.T) {
	l := NewLocal(zerolog.Nop(), 8)

	var (
		mu  sync.Mutex
		got []uint64
	)
	_, err := l.Subscribe(context.Background(), SubjectApplicationSubmitted, "test", 1, func(_ context.Context, data []byte) error {
		var evt ApplicationSubmitted
		if err := json.Unmarshal(data, &evt); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, evt.ApplicationID)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	for id := uint64(1); id <= 3; id++ {
		require.NoError(t, l.Publish(context.Background(), SubjectApplicationSubmitted, NewID(), ApplicationSubmitted{ApplicationID: id}))
	}
	require.NoError(t, l.Publish(context.Background(), SubjectLinkIssued, NewID(), LinkIssued{Token: "tk_x"}))
	l.Close()

	assert.Equal(t, []uint64{1, 2, 3}, got)
}

func TestLocalRetriesUpToMaxDeliver(t *testing.T) {
	l := NewLocal(zerolog.Nop(), 8)

	attempts := 0
	_, err := l.Subscribe(context.Background(), SubjectLinkIssued, "test", 3, func(context.Context, []byte) error {
		attempts++
		return errors.New("smtp down")
	})
	require.NoError(t, err)

	require.NoError(t, l.Publish(context.Background(), SubjectLinkIssued, NewID(), LinkIssued{}))
	l.Close()
	assert.Equal(t, 3, attempts)
}

func TestLocalUnsubscribeAndClose(t *testing.T) {
	l := NewLocal(zerolog.Nop(), 1)

	calls := 0
	closer, err := l.Subscribe(context.Background(), SubjectLinkIssued, "test", 1, func(context.Context, []byte) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, closer.Close())

	require.NoError(t, l.Publish(context.Background(), SubjectLinkIssued, NewID(), LinkIssued{}))
	l.Close()
	assert.Zero(t, calls)

	assert.ErrorIs(t, l.Publish(context.Background(), SubjectLinkIssued, NewID(), LinkIssued{}), ErrClosed)
	l.Close()
}
