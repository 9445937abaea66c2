// Package feature defines the node/feature vocabulary shared by the cache,
// the selection policies and the feature store backends.
package feature

import (
	"context"
	"errors"
)

// NodeID identifies a graph node. Ids are dense: a graph with vnum nodes
// uses exactly [0, vnum).
type NodeID int64

// Row is one feature vector of one node for one field.
// Rows handed out by a Store or by the cache must be treated as read-only.
type Row []float32

// Bytes returns the in-memory payload size of the row.
func (r Row) Bytes() int64 { return int64(len(r)) * 4 }

// Store errors.
var (
	ErrNoRow   = errors.New("feature: no row for node")
	ErrNoField = errors.New("feature: unknown field")
)

// Store is the canonical, possibly remote, source of node features.
//
// Implementations must honour ctx cancellation: the cache bounds every call
// with a deadline and relies on the store to return once it expires.
type Store interface {
	// GetRow returns the row of a single node for field.
	GetRow(ctx context.Context, id NodeID, field string) (Row, error)

	// GetRows returns one row per id, in the order of ids.
	// Duplicated ids are allowed and yield duplicated rows.
	GetRows(ctx context.Context, ids []NodeID, field string) ([]Row, error)
}
