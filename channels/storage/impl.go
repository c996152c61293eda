////////////////////////////////////////////////////////////////////////////////
// Copyright © 2023 Privategrity Corporation                                   /
//                                                                             /
// All rights reserved.                                                        /
////////////////////////////////////////////////////////////////////////////////

// Handles the database ORM for the channel event model

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/elite-erp/chatcore/channels"
)

const (
	// Can be provided to SqlLite to create a temporary, in-memory DB.
	temporaryDbPath = "file::memory:?cache=shared"

	// Determines maximum runtime (in seconds) of DB queries.
	dbTimeout = 3 * time.Second
)

// newContext builds a context for database operations.
func newContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dbTimeout)
}

// JoinChannel is called whenever a channel is joined locally.
// Creates the Channel, or updates it if it already exists.
func (i *impl) JoinChannel(channel channels.Channel) {
	parentErr := errors.New("failed to JoinChannel")

	newChannel := Channel{
		Id:        int64(channel.ID),
		Name:      channel.Name,
		IsPrivate: channel.IsPrivate,
	}

	ctx, cancel := newContext()
	err := i.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&newChannel).Error
	cancel()

	if err != nil {
		jww.ERROR.Printf("%+v", errors.WithMessagef(parentErr,
			"Unable to create Channel: %+v", err))
		return
	}
	jww.DEBUG.Printf("Successfully joined channel: %d", channel.ID)
}

// LeaveChannel is called whenever a channel is left locally.
// Deletes all Message and PendingMessage associated with the given Channel.
func (i *impl) LeaveChannel(channelID channels.ChannelID) {
	parentErr := errors.New("failed to LeaveChannel")

	// Also deletes associated Messages due to CASCADE
	ctx, cancel := newContext()
	err := i.db.WithContext(ctx).Delete(&Channel{Id: int64(channelID)}).Error
	cancel()

	if err != nil {
		jww.ERROR.Printf("%+v", errors.WithMessagef(parentErr,
			"Unable to delete Channel: %+v", err))
		return
	}

	jww.DEBUG.Printf("Successfully deleted channel: %d", channelID)
}

// ReceiveMessage is called whenever a confirmed message is received on a given
// channel. Creates the Message, or updates its content if it already exists.
// Reactions and the sent status of an existing Message are kept.
func (i *impl) ReceiveMessage(msg channels.Message) {
	msgToInsert, err := buildMessage(msg, channels.Delivered)
	if err != nil {
		jww.ERROR.Printf("Failed to encode message %d: %+v", msg.ID, err)
		return
	}

	ctx, cancel := newContext()
	err = i.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"parent_id",
			"author_name", "text", "timestamp", "attachments"}),
	}).Create(msgToInsert).Error
	cancel()

	if err != nil {
		jww.ERROR.Printf("Failed to receive message: %+v", err)
	}
}

// UpdateFromTempID is called whenever the status of a locally sent message
// changes.
//
// An Unsent message is stored as a PendingMessage. Once confirmed, the
// PendingMessage is replaced by the confirmed Message in one transaction. A
// Failed message is kept as a PendingMessage with the failed status.
func (i *impl) UpdateFromTempID(channelID channels.ChannelID,
	tempID channels.TempID, msg channels.Message, status channels.SentStatus) {
	parentErr := errors.Errorf("failed to UpdateFromTempID %d", tempID)

	var err error
	switch status {
	case channels.Unsent:
		err = i.insertPending(channelID, tempID, msg)
	case channels.Sent, channels.Delivered:
		err = i.confirmPending(tempID, msg, status)
	case channels.Failed:
		err = i.failPending(tempID)
	default:
		err = errors.Errorf("unexpected status %s", status)
	}

	if err != nil {
		jww.ERROR.Printf("%+v", errors.WithMessage(parentErr, err.Error()))
	}
}

func (i *impl) insertPending(channelID channels.ChannelID,
	tempID channels.TempID, msg channels.Message) error {
	row := &PendingMessage{
		TempId:     int64(tempID),
		ChannelId:  int64(channelID),
		ParentId:   int64(msg.ParentID),
		AuthorName: msg.AuthorName,
		Text:       msg.Content,
		Timestamp:  msg.CreatedAt,
		Status:     uint8(channels.Unsent),
	}

	ctx, cancel := newContext()
	err := i.db.WithContext(ctx).Create(row).Error
	cancel()
	if err != nil {
		return err
	}

	i.pendingMux.Lock()
	i.pending[tempID] = row.Id
	i.pendingMux.Unlock()
	return nil
}

func (i *impl) takePending(tempID channels.TempID) (uint64, bool) {
	i.pendingMux.Lock()
	defer i.pendingMux.Unlock()
	uuid, exists := i.pending[tempID]
	delete(i.pending, tempID)
	return uuid, exists
}

func (i *impl) confirmPending(tempID channels.TempID, msg channels.Message,
	status channels.SentStatus) error {
	msgToInsert, err := buildMessage(msg, status)
	if err != nil {
		return err
	}
	uuid, exists := i.takePending(tempID)

	// Build a transaction to prevent race conditions
	ctx, cancel := newContext()
	defer cancel()
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if exists {
			err := tx.Delete(&PendingMessage{}, uuid).Error
			if err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status"}),
		}).Create(msgToInsert).Error
	})
}

func (i *impl) failPending(tempID channels.TempID) error {
	uuid, exists := i.takePending(tempID)
	if !exists {
		return errors.New("no pending message")
	}

	// When updating with struct it will only update non-zero fields by default
	ctx, cancel := newContext()
	defer cancel()
	return i.db.WithContext(ctx).Model(&PendingMessage{Id: uuid}).
		Updates(PendingMessage{Status: uint8(channels.Failed)}).Error
}

// UpdateReactions is called whenever the reactions on a message change.
// Replaces the stored reactions of the Message.
func (i *impl) UpdateReactions(channelID channels.ChannelID,
	messageID channels.MessageID, groups []channels.ReactionGroup) {
	data, err := json.Marshal(groups)
	if err != nil {
		jww.ERROR.Printf("Failed to encode reactions of message %d: %+v",
			messageID, err)
		return
	}

	ctx, cancel := newContext()
	err = i.db.WithContext(ctx).Model(&Message{}).
		Where("id = ? AND channel_id = ?", messageID, channelID).
		Update("reactions", data).Error
	cancel()

	if err != nil {
		jww.ERROR.Printf("Failed to update reactions: %+v", err)
	}
}

// UpdateTyping is called whenever the remote typing indicator changes. Typing
// state is ephemeral and not stored.
func (i *impl) UpdateTyping(channelID channels.ChannelID, userName string,
	typing bool) {
	jww.TRACE.Printf("Typing in channel %d: %q %t", channelID, userName, typing)
}

// GetMessage returns the [channels.Message] with the given
// [channels.MessageID].
func (i *impl) GetMessage(messageID channels.MessageID) (
	channels.Message, error) {
	result := &Message{}
	ctx, cancel := newContext()
	err := i.db.WithContext(ctx).Take(result, "id = ?", messageID).Error
	cancel()
	if err != nil {
		return channels.Message{}, err
	}
	return result.toMessage()
}

// buildMessage is a private helper that converts a [channels.Message] into a
// basic Message structure for insertion into storage.
func buildMessage(msg channels.Message, status channels.SentStatus) (
	*Message, error) {
	if msg.ID <= 0 {
		return nil, errors.Errorf("message has no ID")
	}

	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return nil, err
	}
	var reactions []byte
	if len(msg.Reactions) > 0 {
		if reactions, err = json.Marshal(msg.Reactions); err != nil {
			return nil, err
		}
	}

	return &Message{
		Id:          int64(msg.ID),
		ChannelId:   int64(msg.ChannelID),
		ParentId:    int64(msg.ParentID),
		AuthorId:    string(msg.AuthorID),
		AuthorName:  msg.AuthorName,
		Text:        msg.Content,
		Timestamp:   msg.CreatedAt,
		Status:      uint8(status),
		Attachments: attachments,
		Reactions:   reactions,
	}, nil
}

// toMessage converts the stored Message back into a [channels.Message].
func (m *Message) toMessage() (channels.Message, error) {
	msg := channels.Message{
		ID:         channels.MessageID(m.Id),
		ChannelID:  channels.ChannelID(m.ChannelId),
		AuthorID:   channels.UserID(m.AuthorId),
		AuthorName: m.AuthorName,
		Content:    m.Text,
		CreatedAt:  m.Timestamp,
		ParentID:   channels.MessageID(m.ParentId),
	}
	if len(m.Attachments) > 0 {
		if err := json.Unmarshal(m.Attachments, &msg.Attachments); err != nil {
			return channels.Message{}, errors.Wrapf(err,
				"failed to decode attachments of message %d", m.Id)
		}
	}
	if len(m.Reactions) > 0 {
		if err := json.Unmarshal(m.Reactions, &msg.Reactions); err != nil {
			return channels.Message{}, errors.Wrapf(err,
				"failed to decode reactions of message %d", m.Id)
		}
	}
	return msg, nil
}
