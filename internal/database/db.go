package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Options holds connection parameters. Zero pool values fall back to the
// defaults below.
type Options struct {
	User, Pass, Host, Port, Name string
	MaxOpenConns                 int
	LockWaitTimeout              time.Duration
}

// Open connects to MySQL and verifies the connection.
func Open(o Options) (*sql.DB, error) {
	auth := o.User
	if o.Pass != "" {
		auth = fmt.Sprintf("%s:%s", o.User, o.Pass)
	}
	// parseTime=true -> DATE/DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, o.Host, o.Port, o.Name)
	// Blocking row locks (seat blocks, orders) give up after this many seconds.
	if o.LockWaitTimeout > 0 {
		dsn += fmt.Sprintf("&innodb_lock_wait_timeout=%d", int(o.LockWaitTimeout.Seconds()))
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	maxOpen := o.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
