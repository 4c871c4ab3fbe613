// Package database provides the PostgreSQL connection pool for the
// caption and detection archive.
package database
