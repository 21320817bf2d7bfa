// Package lincheck records concurrent histories of put/get/remove calls on
// an int→int map and checks them for linearizability against a sequential
// map.
//
// Calls on different keys never constrain each other, so a history is
// split by key and each part is searched on its own (Wing & Gong search
// with a cache of visited configurations).
package lincheck

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// ErrNotLinearizable is wrapped by Check when no sequential order explains
// the history of some key.
var ErrNotLinearizable = errors.New("lincheck: history is not linearizable")

// Kind is the operation of a recorded call.
type Kind uint8

const (
	Put Kind = iota
	Get
	Remove
)

func (k Kind) String() string {
	switch k {
	case Put:
		return "put"
	case Get:
		return "get"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Op is one completed call. Call and Return are logical timestamps taken
// from a shared clock; a precedes b in real time iff a.Return < b.Call.
type Op struct {
	Kind   Kind
	Key    int
	Arg    int // value passed to Put
	Ret    int // value returned, meaningful when OK
	OK     bool
	Call   int64
	Return int64
}

func (op Op) String() string {
	s := fmt.Sprintf("[%d,%d] %s(%d", op.Call, op.Return, op.Kind, op.Key)
	if op.Kind == Put {
		s += fmt.Sprintf(", %d", op.Arg)
	}
	if op.OK {
		return s + fmt.Sprintf(") = %d", op.Ret)
	}
	return s + ") = none"
}

// Target is the map under test. *cht.Map[int, int] satisfies it.
type Target interface {
	Put(key, value int) (int, bool)
	Get(key int) (int, bool)
	Remove(key int) (int, bool)
}

// Recorder hands out per-goroutine logs sharing one clock.
type Recorder struct {
	clock atomic.Int64
	mu    sync.Mutex
	logs  []*Log
}

// Log collects the calls of one goroutine. It is not safe for concurrent use.
type Log struct {
	r   *Recorder
	ops []Op
}

// NewLog registers a log for one goroutine.
func (r *Recorder) NewLog() *Log {
	l := &Log{r: r}
	r.mu.Lock()
	r.logs = append(r.logs, l)
	r.mu.Unlock()
	return l
}

// Put calls target.Put and records it.
func (l *Log) Put(target Target, key, value int) {
	call := l.r.clock.Add(1)
	ret, ok := target.Put(key, value)
	l.add(Op{Kind: Put, Key: key, Arg: value, Ret: ret, OK: ok, Call: call})
}

// Get calls target.Get and records it.
func (l *Log) Get(target Target, key int) {
	call := l.r.clock.Add(1)
	ret, ok := target.Get(key)
	l.add(Op{Kind: Get, Key: key, Ret: ret, OK: ok, Call: call})
}

// Remove calls target.Remove and records it.
func (l *Log) Remove(target Target, key int) {
	call := l.r.clock.Add(1)
	ret, ok := target.Remove(key)
	l.add(Op{Kind: Remove, Key: key, Ret: ret, OK: ok, Call: call})
}

func (l *Log) add(op Op) {
	op.Return = l.r.clock.Add(1)
	l.ops = append(l.ops, op)
}

// History returns every recorded call. Call it after all goroutines are done.
func (r *Recorder) History() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	var h []Op
	for _, l := range r.logs {
		h = append(h, l.ops...)
	}
	return h
}

// Workload describes a randomized run.
type Workload struct {
	Workers int    // concurrent goroutines
	Ops     int    // calls per goroutine
	Keys    int    // keys are drawn from [0, Keys)
	Seed    uint64 // seeds the per-worker generators
}

// Record runs w against target and returns the history. Values written by
// Put are unique across the run, so a returned value names its writer.
func Record(target Target, w Workload) []Op {
	var (
		r     Recorder
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for id := range w.Workers {
		l := r.NewLog()
		rng := rand.New(rand.NewPCG(w.Seed, uint64(id)))
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := range w.Ops {
				key := rng.IntN(max(w.Keys, 1))
				switch rng.IntN(3) {
				case 0:
					l.Put(target, key, id*w.Ops+i+1)
				case 1:
					l.Get(target, key)
				default:
					l.Remove(target, key)
				}
			}
		}()
	}
	close(start)
	wg.Wait()
	return r.History()
}

// Check reports whether history is linearizable with respect to a
// sequential map that starts empty.
func Check(history []Op) error {
	byKey := make(map[int][]Op)
	for _, op := range history {
		byKey[op.Key] = append(byKey[op.Key], op)
	}
	keys := make([]int, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		ops := byKey[k]
		if !checkKey(ops) {
			return fmt.Errorf("%w: key %d (%d calls)", ErrNotLinearizable, k, len(ops))
		}
	}
	return nil
}

// model is the sequential map restricted to one key.
type model struct {
	present bool
	value   int
}

// step applies op to the model and reports whether op's result matches.
// Put, Get and Remove all return the value held before the call.
func (m model) step(op Op) (model, bool) {
	ok := op.OK == m.present && (!m.present || op.Ret == m.value)
	switch op.Kind {
	case Put:
		return model{present: true, value: op.Arg}, ok
	case Remove:
		return model{}, ok
	}
	return m, ok
}

type search struct {
	ops  []Op
	done []uint64
	seen map[string]struct{}
	buf  []byte
}

func checkKey(ops []Op) bool {
	ops = slices.Clone(ops)
	slices.SortFunc(ops, func(a, b Op) bool { return a.Call < b.Call })
	s := &search{
		ops:  ops,
		done: make([]uint64, (len(ops)+63)/64),
		seen: make(map[string]struct{}),
	}
	return s.linearize(model{}, len(ops))
}

// linearize tries every call that may come first among the remaining ones:
// a call qualifies if it was invoked before any remaining call returned.
func (s *search) linearize(state model, remaining int) bool {
	if remaining == 0 {
		return true
	}
	key := s.configKey(state)
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}

	minReturn := int64(1<<63 - 1)
	for i, op := range s.ops {
		if !s.isDone(i) && op.Return < minReturn {
			minReturn = op.Return
		}
	}
	for i, op := range s.ops {
		if op.Call > minReturn {
			break
		}
		if s.isDone(i) {
			continue
		}
		next, ok := state.step(op)
		if !ok {
			continue
		}
		s.setDone(i, true)
		if s.linearize(next, remaining-1) {
			return true
		}
		s.setDone(i, false)
	}
	return false
}

func (s *search) isDone(i int) bool {
	return s.done[i>>6]&(1<<(i&63)) != 0
}

func (s *search) setDone(i int, v bool) {
	if v {
		s.done[i>>6] |= 1 << (i & 63)
	} else {
		s.done[i>>6] &^= 1 << (i & 63)
	}
}

func (s *search) configKey(state model) string {
	s.buf = s.buf[:0]
	for _, w := range s.done {
		s.buf = binary.LittleEndian.AppendUint64(s.buf, w)
	}
	if state.present {
		s.buf = append(s.buf, 1)
		s.buf = binary.LittleEndian.AppendUint64(s.buf, uint64(state.value))
	} else {
		s.buf = append(s.buf, 0)
	}
	return string(s.buf)
}
