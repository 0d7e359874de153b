// Package postgres provides the PostgreSQL implementation of the task store
// interface defined in the internal/task package. It handles the details of
// query execution, row locking during claims, and data mapping between the
// task domain type and database records.
package postgres
