package query

/*
	Package query wraps https://github.com/mongodb/mongo-go-driver with the
	handful of operations the repositories need. Every call is logged on
	failure and reported to the slow log when it takes too long.
*/

import (
	"fmt"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
)

var (
	// ErrNotFound is mongo document not found error
	ErrNotFound = fmt.Errorf("document not found")

	// ErrDuplicateKey is an error when violating unique index
	ErrDuplicateKey = fmt.Errorf("duplicate key")
)

// Index describes one index on a table, keys prefixed with "-" are descending
type Index struct {
	Keys   []string
	Unique bool
}

// Mongo abstract the mongo layer.
type Mongo interface {
	// Insert inserts a new document to the table
	Insert(context ctx.Ctx, table domain.Table, insert interface{}) error

	// FindOne get data from the table
	FindOne(context ctx.Ctx, table domain.Table, query, result interface{}) error

	// Search sort order by `sort` argument (ex "timestamp" ascending, or "-timestamp" descending)
	// if `sort` is "", the sort action is skipped. limit 0 means no limit.
	Search(context ctx.Ctx, table domain.Table, offset, limit int, sort string, query, results interface{}) error

	// Replace replaces the entry matched by selector.
	// Return ErrNotFound if selector does not match any documents
	Replace(context ctx.Ctx, table domain.Table, selector, replacement interface{}) error

	// RemoveAll remove all entries matching the selector from the table
	RemoveAll(context ctx.Ctx, table domain.Table, selector interface{}) (removedCnt int64, err error)

	// EnsureIndexes creates the indexes if missing
	EnsureIndexes(context ctx.Ctx, table domain.Table, indexes ...Index) error
}
