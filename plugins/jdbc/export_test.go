package jdbc

import "database/sql"

// SetOpen replaces the function opening connection pools of c.
func SetOpen(c *Connector, open func(driver, dsn string) (*sql.DB, error)) {
	c.open = open
}
