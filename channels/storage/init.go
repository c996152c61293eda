////////////////////////////////////////////////////////////////////////////////
// Copyright © 2023 Privategrity Corporation                                   /
//                                                                             /
// All rights reserved.                                                        /
////////////////////////////////////////////////////////////////////////////////

// Handles low level database control and interfaces

package storage

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"gitlab.com/elite-erp/chatcore/channels"
)

// Store is a [channels.EventModel] that mirrors every channel the user joins
// into a database. It is also a [channels.Fetcher] that serves history from
// the mirror.
type Store interface {
	channels.EventModel
	channels.Fetcher

	// GetMessage returns the stored message with the given ID.
	GetMessage(messageID channels.MessageID) (channels.Message, error)

	// Close closes the database connection.
	Close() error
}

// impl implements the Store interface with an underlying DB.
type impl struct {
	db *gorm.DB // Stored database connection

	// pending maps the temp ID of each unconfirmed local send to the row
	// holding it.
	pending    map[channels.TempID]uint64
	pendingMux sync.Mutex
}

// NewEventModel initializes the [Store] interface with appropriate backend.
// An empty path opens a temporary, in-memory database.
func NewEventModel(dbFilePath string) (Store, error) {
	return newImpl(dbFilePath)
}

func newImpl(dbFilePath string) (*impl, error) {

	// Use a temporary, in-memory database if no path is specified
	if len(dbFilePath) == 0 {
		dbFilePath = temporaryDbPath
		jww.WARN.Printf("No database file path specified! " +
			"Using temporary in-memory database")
	}

	// Create the database connection
	db, err := gorm.Open(sqlite.Open(dbFilePath), &gorm.Config{
		Logger: logger.New(jww.TRACE, logger.Config{LogLevel: logger.Info}),
	})
	if err != nil {
		return nil, errors.Errorf("Unable to initialize database backend: %+v", err)
	}

	// Force-enable foreign keys as an oddity of SQLite
	if err = db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}

	// Get and configure the internal database ConnPool
	sqlDb, err := db.DB()
	if err != nil {
		return nil, errors.Errorf(
			"Unable to configure database connection pool: %+v", err)
	}

	// The foreign key PRAGMA is per connection, so only one is ever opened
	sqlDb.SetMaxOpenConns(1)
	sqlDb.SetMaxIdleConns(1)
	sqlDb.SetConnMaxIdleTime(5 * time.Minute)

	// Initialize the database schema
	// WARNING: Order is important. Do not change without database testing
	err = db.AutoMigrate(&Channel{}, &Message{}, &PendingMessage{})
	if err != nil {
		return nil, err
	}

	// Build the interface
	di := &impl{
		db:      db,
		pending: make(map[channels.TempID]uint64),
	}

	jww.INFO.Println("Database backend initialized successfully!")
	return di, nil
}

// Close closes the database connection.
func (i *impl) Close() error {
	sqlDb, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}
