////////////////////////////////////////////////////////////////////////////////
// Copyright © 2023 Privategrity Corporation                                   /
//                                                                             /
// All rights reserved.                                                        /
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elite-erp/chatcore/channels"
)

// FetchPage returns up to limit stored messages of the channel older than
// before, or the most recent ones if before is zero, in ascending order.
// Adheres to the [channels.Fetcher] interface.
func (i *impl) FetchPage(ctx context.Context, channelID channels.ChannelID,
	before channels.MessageID, limit int) (channels.Page, error) {
	if limit <= 0 {
		return channels.Page{}, errors.Errorf("invalid limit %d", limit)
	}

	query := i.db.WithContext(ctx).Where("channel_id = ?", channelID)
	if before > 0 {
		query = query.Where("id < ?", before)
	}

	// One extra row tells whether an older page exists
	var rows []Message
	err := query.Order("timestamp DESC").Order("id DESC").Limit(limit + 1).
		Find(&rows).Error
	if err != nil {
		return channels.Page{}, errors.Wrapf(err,
			"failed to query messages of channel %d", channelID)
	}

	page := channels.Page{HasMore: len(rows) > limit}
	if page.HasMore {
		rows = rows[:limit]
	}

	page.Messages = make([]channels.Message, len(rows))
	for j := range rows {
		msg, err := rows[j].toMessage()
		if err != nil {
			return channels.Page{}, err
		}
		page.Messages[len(rows)-1-j] = msg
	}
	if page.HasMore {
		page.NextCursor = page.Messages[0].ID
	}
	return page, nil
}

// fallbackFetcher serves history from the local store when the primary
// fetcher fails.
type fallbackFetcher struct {
	primary channels.Fetcher
	local   channels.Fetcher
}

// NewFallbackFetcher returns a [channels.Fetcher] that fetches from primary
// and, if that fails with a retryable error, from local. Pages served from
// local are marked [channels.Page.Local] and always report HasMore.
func NewFallbackFetcher(primary, local channels.Fetcher) channels.Fetcher {
	return &fallbackFetcher{primary: primary, local: local}
}

func (ff *fallbackFetcher) FetchPage(ctx context.Context,
	channelID channels.ChannelID, before channels.MessageID, limit int) (
	channels.Page, error) {
	page, err := ff.primary.FetchPage(ctx, channelID, before, limit)
	if err == nil || !channels.IsRetryable(err) || ctx.Err() != nil {
		return page, err
	}

	jww.WARN.Printf("Fetching history of channel %d from the local store: "+
		"%+v", channelID, err)
	page, localErr := ff.local.FetchPage(ctx, channelID, before, limit)
	if localErr != nil {
		jww.ERROR.Printf("Failed to fetch history of channel %d from the "+
			"local store: %+v", channelID, localErr)
		return channels.Page{}, err
	}
	page.Local, page.HasMore = true, true
	return page, nil
}
