package database

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"aridialer/internal/config"
)

// Connection manages the MySQL pool. It opens lazily on first use so the
// service can run without a database, and Drop lets the control surface
// force a clean re-initialisation on the next write.
type Connection struct {
	cfg config.MySQLConfig

	mu sync.Mutex
	db *sql.DB
}

// NewConnection creates an unopened connection.
func NewConnection(cfg config.MySQLConfig) *Connection {
	return &Connection{cfg: cfg}
}

// Get returns the pool, opening it when needed.
func (c *Connection) Get() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		return c.db, nil
	}

	db, err := sql.Open("mysql", c.cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening mysql pool: %w", err)
	}
	db.SetMaxOpenConns(c.cfg.MaxOpenConns)
	db.SetMaxIdleConns(c.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to mysql: %w", err)
	}

	if err := ensureSchema(db, c.cfg.Table); err != nil {
		db.Close()
		return nil, err
	}

	c.db = db
	return c.db, nil
}

// Drop discards the pool so the next Get reopens it.
func (c *Connection) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		c.db.Close()
		c.db = nil
	}
}

// Close closes the pool for good.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
