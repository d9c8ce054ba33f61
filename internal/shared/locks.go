package shared

import "fmt"

// AllocationLockKey builds redis keys serialising auto allocation per
// tenant, SKU and batch.
func AllocationLockKey(tenantID, skuID, batch string) string {
	return fmt.Sprintf("warehouse:alloc:%s:%s:%s:lock", tenantID, skuID, batch)
}

// SummaryVersionKey is the per-tenant stock summary cache version.
func SummaryVersionKey(tenantID string) string {
	return fmt.Sprintf("warehouse:summary:%s:version", tenantID)
}
