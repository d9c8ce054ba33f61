package shared

import "errors"

var (
	// ErrTenantRequired indicates the request carried no tenant.
	ErrTenantRequired = errors.New("tenant required")
	// ErrLockBusy indicates another worker holds the lock.
	ErrLockBusy = errors.New("lock busy")
)
