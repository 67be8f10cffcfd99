// Package keylock implementa exclusión mutua por clave.
//
// Cada clave tiene a lo sumo un holder. Las entradas se crean bajo demanda y se
// eliminan cuando no quedan holders ni waiters, así la tabla no crece con el
// número histórico de claves.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrLockTimeout se devuelve cuando la espera supera el timeout. Es reintentable.
var ErrLockTimeout = errors.New("lock wait timeout")

type entry struct {
	sem  chan struct{} // capacidad 1: lleno = tomado
	refs int           // holder + waiters
}

// Table es la tabla de locks. El valor cero es usable.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New crea una tabla vacía.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func (t *Table) ref(key string) *entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries == nil {
		t.entries = make(map[string]*entry)
	}
	e, ok := t.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		t.entries[key] = e
	}
	e.refs++
	return e
}

func (t *Table) unref(key string, e *entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(t.entries, key)
	}
}

// Lock toma el lock de key. timeout <= 0 espera solo lo que permita ctx.
// El unlock devuelto es idempotente.
func (t *Table) Lock(ctx context.Context, key string, timeout time.Duration) (func(), error) {
	e := t.ref(key)

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		t.unref(key, e)
		return nil, ctx.Err()
	case <-expired:
		t.unref(key, e)
		return nil, fmt.Errorf("%w: key %q after %s", ErrLockTimeout, key, timeout)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			t.unref(key, e)
		})
	}, nil
}

// Len devuelve la cantidad de claves con holder o waiters.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
