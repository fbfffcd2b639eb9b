// Package store provides key/value tile stores keyed by packed quad tree
// keys (see package tilekey).
//
// A missing key is not an error: Get returns an empty slice.
package store

import (
	"errors"
	"iter"
)

var ErrClosed = errors.New("rastertiles: store is closed")

type Store interface {
	Get(key int64) ([]byte, error)
	Close() error
}

type Writer interface {
	Put(key int64, data []byte) error
	// Finalize flushes pending writes. The writer must still be closed.
	Finalize() error
	Close() error
}

// Visitor is implemented by stores that can enumerate their contents.
type Visitor interface {
	Visit(visitor func(key int64, data []byte) error) error
}

var errVisitCancelled = errors.New("visit cancelled")

// All returns an iterator over all entries of a store.
// Iteration panics on unrecoverable errors.
func All(v Visitor) iter.Seq2[int64, []byte] {
	return func(yield func(int64, []byte) bool) {
		err := v.Visit(func(key int64, data []byte) error {
			if !yield(key, data) {
				return errVisitCancelled
			}
			return nil
		})
		if err != nil && err != errVisitCancelled {
			panic(err)
		}
	}
}
