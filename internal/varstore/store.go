// Package varstore holds macro variables shared between all injectors.
// One owner goroutine serves get/set requests over a channel, so macros
// running in different injection units coordinate without shared locks.
// Values persist across daemon restarts.
package varstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"

	"github.com/remapd/remapd/pkg/bus"
)

// requestTimeout bounds how long a reader waits for the owner. A read that
// times out reports the variable as unset instead of blocking a macro
// forever.
const requestTimeout = 100 * time.Millisecond

var keyPrefix = []byte("var:")

// Value is a macro variable value: a string or a number, or unset.
type Value struct {
	Str *string
	Num *float64
}

func StringValue(s string) Value {
	return Value{Str: &s}
}

func NumberValue(n float64) Value {
	return Value{Num: &n}
}

func (v Value) IsSet() bool {
	return v.Str != nil || v.Num != nil
}

// Equal compares values. A number and a string compare equal when the
// string parses to the same number, so set(foo, 1) matches if_eq($foo, "1").
func (v Value) Equal(other Value) bool {
	if v.Num != nil && other.Num != nil {
		return *v.Num == *other.Num
	}
	if v.Str != nil && other.Str != nil {
		return *v.Str == *other.Str
	}
	if v.Num != nil && other.Str != nil {
		if n, err := strconv.ParseFloat(*other.Str, 64); err == nil {
			return *v.Num == n
		}
	}
	if v.Str != nil && other.Num != nil {
		if n, err := strconv.ParseFloat(*v.Str, 64); err == nil {
			return n == *other.Num
		}
	}
	return !v.IsSet() && !other.IsSet()
}

// Number returns the numeric interpretation of the value.
func (v Value) Number() (float64, bool) {
	if v.Num != nil {
		return *v.Num, true
	}
	if v.Str != nil {
		n, err := strconv.ParseFloat(*v.Str, 64)
		return n, err == nil
	}
	return 0, false
}

func (v Value) String() string {
	switch {
	case v.Num != nil:
		return strconv.FormatFloat(*v.Num, 'f', -1, 64)
	case v.Str != nil:
		return *v.Str
	default:
		return "<unset>"
	}
}

func (v Value) marshal() []byte {
	if v.Num != nil {
		return []byte("n:" + strconv.FormatFloat(*v.Num, 'f', -1, 64))
	}
	return []byte("s:" + *v.Str)
}

func unmarshalValue(data []byte) (Value, error) {
	s := string(data)
	switch {
	case strings.HasPrefix(s, "n:"):
		n, err := strconv.ParseFloat(s[2:], 64)
		if err != nil {
			return Value{}, fmt.Errorf("corrupt stored number %q: %w", s, err)
		}
		return NumberValue(n), nil
	case strings.HasPrefix(s, "s:"):
		return StringValue(s[2:]), nil
	default:
		return Value{}, fmt.Errorf("corrupt stored value %q", s)
	}
}

type opKind uint8

const (
	opGet opKind = iota
	opSet
)

type request struct {
	op    opKind
	name  string
	value Value
	resp  chan Value
}

// Store is the variable store. Construct with New, run Start in its own
// goroutine, then use Get/Set from any number of goroutines.
type Store struct {
	log   *zap.Logger
	db    *badger.DB
	reqCh chan request
	bus   *bus.Bus[string, Value]
	ready chan struct{}
}

// New creates a store. db may be nil for a memory-only store.
func New(log *zap.Logger, db *badger.DB) *Store {
	return &Store{
		log:   log,
		db:    db,
		reqCh: make(chan request),
		bus:   bus.NewBus[string, Value](log),
		ready: make(chan struct{}),
	}
}

func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Start runs the owner loop until ctx is done.
func (s *Store) Start(ctx context.Context) error {
	values, err := s.load()
	if err != nil {
		return fmt.Errorf("failed to load persisted variables: %w", err)
	}
	if len(values) > 0 {
		s.log.Info("Restored macro variables", zap.Int("count", len(values)))
	}
	close(s.ready)
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-s.reqCh:
			switch req.op {
			case opGet:
				req.resp <- values[req.name]
			case opSet:
				previous := values[req.name]
				values[req.name] = req.value
				if err := s.persist(req.name, req.value); err != nil {
					s.log.Warn("Failed to persist variable", zap.String("name", req.name), zap.Error(err))
				}
				if !previous.Equal(req.value) {
					s.bus.Publish(ctx, req.name, req.value)
				}
				req.resp <- req.value
			}
		}
	}
}

func (s *Store) load() (map[string]Value, error) {
	values := make(map[string]Value)
	if s.db == nil {
		return values, nil
	}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Seek(keyPrefix); iter.ValidForPrefix(keyPrefix); iter.Next() {
			item := iter.Item()
			name := strings.TrimPrefix(string(item.Key()), string(keyPrefix))
			err := item.Value(func(data []byte) error {
				value, err := unmarshalValue(data)
				if err != nil {
					s.log.Warn("Skipping corrupt stored variable", zap.String("name", name), zap.Error(err))
					return nil
				}
				values[name] = value
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

func (s *Store) persist(name string, value Value) error {
	if s.db == nil {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append(keyPrefix, name...), value.marshal())
	})
}

// Get reads a variable. It returns an unset value when the variable was
// never set, or when the owner does not answer within the request timeout.
func (s *Store) Get(ctx context.Context, name string) Value {
	resp := make(chan Value, 1)
	timer := time.NewTimer(requestTimeout)
	defer timer.Stop()
	select {
	case s.reqCh <- request{op: opGet, name: name, resp: resp}:
	case <-timer.C:
		s.log.Warn("Variable read timed out", zap.String("name", name))
		return Value{}
	case <-ctx.Done():
		return Value{}
	}
	select {
	case v := <-resp:
		return v
	case <-timer.C:
		s.log.Warn("Variable read timed out", zap.String("name", name))
		return Value{}
	case <-ctx.Done():
		return Value{}
	}
}

// Set writes a variable.
func (s *Store) Set(ctx context.Context, name string, value Value) error {
	resp := make(chan Value, 1)
	select {
	case s.reqCh <- request{op: opSet, name: name, value: value, resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel of change events for the given variable
// names, or all variables when none are given.
func (s *Store) Subscribe(ctx context.Context, names ...string) <-chan bus.Message[string, Value] {
	return s.bus.Subscribe(ctx, names...)
}
