package dbcon

import "database/sql/driver"

func ResetV8Compatible() {
	v8Compatible.Store(false)
}

func ApplyVendorFixes(c driver.Conn) (bool, error) {
	return applyVendorFixes(c)
}

func DataSourceName(dsn, username, password string) string {
	return dataSourceName(dsn, username, password)
}

func (r *Registry) LockedNames() int {
	r.locks.mu.Lock()
	defer r.locks.mu.Unlock()
	return len(r.locks.m)
}
