package varstore

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startStore(t *testing.T, db *badger.DB) (*Store, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	store := New(zap.NewNop(), db)
	go func() {
		_ = store.Start(ctx)
	}()
	<-store.Ready()
	return store, ctx
}

func TestSetAndGet(t *testing.T) {
	store, ctx := startStore(t, nil)

	require.NoError(t, store.Set(ctx, "mode", NumberValue(2)))
	value := store.Get(ctx, "mode")
	require.True(t, value.IsSet())
	n, ok := value.Number()
	require.True(t, ok)
	assert.Equal(t, float64(2), n)
}

func TestUnsetVariable(t *testing.T) {
	store, ctx := startStore(t, nil)

	value := store.Get(ctx, "never_written")
	assert.False(t, value.IsSet())
}

func TestGetTimesOutWhenOwnerIsNotRunning(t *testing.T) {
	store := New(zap.NewNop(), nil)

	start := time.Now()
	value := store.Get(context.Background(), "foo")
	assert.False(t, value.IsSet())
	assert.Less(t, time.Since(start), time.Second)
}

func TestValueEquality(t *testing.T) {
	assert.True(t, NumberValue(1).Equal(NumberValue(1)))
	assert.True(t, NumberValue(1).Equal(StringValue("1")))
	assert.True(t, StringValue("on").Equal(StringValue("on")))
	assert.False(t, StringValue("on").Equal(StringValue("off")))
	assert.False(t, NumberValue(1).Equal(Value{}))
	assert.True(t, (Value{}).Equal(Value{}))
}

func TestChangeEvents(t *testing.T) {
	store, ctx := startStore(t, nil)

	events := store.Subscribe(ctx, "watched")
	require.NoError(t, store.Set(ctx, "watched", StringValue("a")))
	// Setting the same value again must not produce another event.
	require.NoError(t, store.Set(ctx, "watched", StringValue("a")))
	require.NoError(t, store.Set(ctx, "watched", StringValue("b")))

	msg := <-events
	assert.Equal(t, "watched", msg.Key)
	assert.Equal(t, "a", msg.Message.String())
	msg = <-events
	assert.Equal(t, "b", msg.Message.String())
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	options := badger.DefaultOptions(dir)
	options.Logger = nil
	db, err := badger.Open(options)
	require.NoError(t, err)

	store, ctx := startStore(t, db)
	require.NoError(t, store.Set(ctx, "sticky", NumberValue(7)))
	require.NoError(t, db.Close())

	db, err = badger.Open(options)
	require.NoError(t, err)
	defer db.Close()

	restored, ctx2 := startStore(t, db)
	value := restored.Get(ctx2, "sticky")
	require.True(t, value.IsSet())
	n, ok := value.Number()
	require.True(t, ok)
	assert.Equal(t, float64(7), n)
}
