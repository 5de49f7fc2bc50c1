package service

import "context"

// TransactionManager runs fn in one database transaction, rolling back when
// fn returns an error.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
