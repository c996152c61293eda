////////////////////////////////////////////////////////////////////////////////
// Copyright © 2023 Privategrity Corporation                                   /
//                                                                             /
// All rights reserved.                                                        /
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"time"
)

// Message defines the SQL representation of a single confirmed Message.
//
// A Message belongs to one Channel.
//
// A Message may (informally) belong to one Message (Parent). The parent is
// always the immediate parent and may not be stored.
type Message struct {
	Id         int64     `gorm:"primaryKey;autoIncrement:false"`
	ChannelId  int64     `gorm:"index;not null"`
	ParentId   int64     `gorm:"index;not null"`
	AuthorId   string    `gorm:"not null"`
	AuthorName string    `gorm:"not null"`
	Text       string    `gorm:"not null"`
	Timestamp  time.Time `gorm:"index;not null"`
	Status     uint8     `gorm:"not null"`

	// JSON encoded []channels.Attachment
	Attachments []byte

	// JSON encoded []channels.ReactionGroup
	Reactions []byte
}

// PendingMessage defines the SQL representation of a locally sent message
// that the server has not confirmed. Failed sends are kept with the Failed
// status so they can be shown for retry.
//
// A PendingMessage belongs to one Channel.
type PendingMessage struct {
	Id         uint64    `gorm:"primaryKey;autoIncrement:true"`
	TempId     int64     `gorm:"index;not null"`
	ChannelId  int64     `gorm:"index;not null"`
	ParentId   int64     `gorm:"not null"`
	AuthorName string    `gorm:"not null"`
	Text       string    `gorm:"not null"`
	Timestamp  time.Time `gorm:"not null"`
	Status     uint8     `gorm:"not null"`
}

// Channel defines the SQL representation of a single Channel.
//
// A Channel has many Message and PendingMessage.
type Channel struct {
	Id        int64  `gorm:"primaryKey;not null;autoIncrement:false"`
	Name      string `gorm:"not null"`
	IsPrivate bool   `gorm:"not null"`

	Messages        []Message        `gorm:"constraint:OnDelete:CASCADE"`
	PendingMessages []PendingMessage `gorm:"constraint:OnDelete:CASCADE"`
}
