////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package rest

import (
	"context"
	"io"
	"net"
	"os"
	"testing"
	"time"

	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"gitlab.com/elite-erp/chatcore/channels"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelTrace)
	os.Exit(m.Run())
}

// newTestClient serves the handler on an in-memory listener and returns a
// client connected to it.
func newTestClient(t *testing.T, handler fasthttp.RequestHandler) *Client {
	ln := fasthttputil.NewInmemoryListener()
	server := &fasthttp.Server{Handler: handler}
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(func() { _ = server.Shutdown() })

	params := GetDefaultParams()
	params.BaseURL = "http://chat.test"
	params.Team = "ops team"
	params.Token = "session-token"
	params.Timeout = 2 * time.Second

	c, err := newClient(params, func(string) (net.Conn, error) {
		return ln.Dial()
	})
	require.NoError(t, err)
	return c
}

// Tests that NewClient refuses incomplete parameters.
func TestNewClient_InvalidParams(t *testing.T) {
	params := GetDefaultParams()
	params.Team = "ops"

	for _, base := range []string{"", "chat.test", "://bad"} {
		params.BaseURL = base
		if _, err := NewClient(params); err == nil {
			t.Errorf("NewClient accepted base URL %q.", base)
		}
	}

	params.BaseURL = "http://chat.test"
	params.Team = ""
	_, err := NewClient(params)
	require.Error(t, err)
}

// Tests that FetchPage requests the right path and query and decodes the
// page.
func TestClient_FetchPage(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/api/teams/ops%20team/channels/4/messages" &&
			string(ctx.Path()) != "/api/teams/ops team/channels/4/messages" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		if string(ctx.Request.Header.Peek("Authorization")) !=
			"Bearer session-token" {
			ctx.SetStatusCode(fasthttp.StatusUnauthorized)
			return
		}
		args := ctx.QueryArgs()
		if string(args.Peek("limit")) != "30" ||
			string(args.Peek("beforeId")) != "40" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}

		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"messages":[` +
			`{"id":39,"userId":"u1","userName":"Ann","content":"b",` +
			`"createdAt":"2024-01-01T10:00:05Z","parentId":31},` +
			`{"id":31,"userId":"u2","userName":"Bo","content":"a",` +
			`"createdAt":"2024-01-01T10:00:00Z","reactions":[` +
			`{"emoji":"👍","userIds":["u2","u1"],"count":2}]}` +
			`],"hasMore":true,"nextCursor":31}`)
	})

	page, err := c.FetchPage(context.Background(), 4, 40, 30)
	require.NoError(t, err)

	require.True(t, page.HasMore)
	require.Equal(t, channels.MessageID(31), page.NextCursor)
	require.Len(t, page.Messages, 2)

	reply := page.Messages[0]
	require.Equal(t, channels.MessageID(39), reply.ID)
	require.Equal(t, channels.ChannelID(4), reply.ChannelID)
	require.Equal(t, channels.MessageID(31), reply.ParentID)
	require.Equal(t, "Ann", reply.AuthorName)
	require.Equal(t,
		time.Date(2024, 1, 1, 10, 0, 5, 0, time.UTC), reply.CreatedAt.UTC())

	require.Equal(t, []channels.UserID{"u1", "u2"},
		page.Messages[1].Reactions[0].ReactorIDs)
}

// Tests that the most recent page is requested without a cursor and that an
// empty history decodes to an empty page.
func TestClient_FetchPage_Latest(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if ctx.QueryArgs().Has("beforeId") {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		ctx.SetBodyString(`{"messages":[],"hasMore":false,"nextCursor":null}`)
	})

	page, err := c.FetchPage(context.Background(), 4, 0, 30)
	require.NoError(t, err)
	require.Empty(t, page.Messages)
	require.False(t, page.HasMore)
	require.Zero(t, page.NextCursor)
}

// Tests which failures are reported as retryable.
func TestClient_FetchPage_Errors(t *testing.T) {
	tests := []struct {
		status    int
		body      string
		retryable bool
	}{
		{fasthttp.StatusInternalServerError,
			`{"error":"Failed to fetch messages"}`, true},
		{fasthttp.StatusTooManyRequests, ``, true},
		{fasthttp.StatusForbidden, `{"error":"not a member"}`, false},
	}

	for i, tt := range tests {
		c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
			ctx.SetStatusCode(tt.status)
			ctx.SetBodyString(tt.body)
		})

		_, err := c.FetchPage(context.Background(), 4, 0, 30)
		if err == nil {
			t.Errorf("No error for status %d (%d).", tt.status, i)
			continue
		}
		if channels.IsRetryable(err) != tt.retryable {
			t.Errorf("Unexpected retryable for status %d (%d)."+
				"\nexpected: %t\nreceived: %t\nerror: %+v",
				tt.status, i, tt.retryable, channels.IsRetryable(err), err)
		}
	}
}

// Tests that a context that is already done fails without a request.
func TestClient_FetchPage_ContextDone(t *testing.T) {
	requests := 0
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) { requests++ })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchPage(ctx, 4, 0, 30)
	require.True(t, channels.IsRetryable(err))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, requests)
}

// Tests that Upload sends the file as a multipart form and returns the
// stored reference.
func TestClient_Upload(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		if !ctx.IsPost() || string(ctx.Path()) != "/api/files" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		header, err := ctx.FormFile("file")
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}
		f, err := header.Open()
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if string(data) != "quarterly numbers" {
			ctx.SetStatusCode(fasthttp.StatusBadRequest)
			return
		}

		ctx.SetBodyString(`{"success":true,"file":{"id":88,"name":"` +
			header.Filename + `","size":17,"url":"/uploads/cloud/88.csv"}}`)
	})

	att, err := c.Upload(context.Background(), channels.FileUpload{
		Name: "report.csv",
		Data: []byte("quarterly numbers"),
	})
	require.NoError(t, err)
	require.Equal(t, channels.Attachment{
		ID:   88,
		Name: "report.csv",
		Size: 17,
		URL:  "/uploads/cloud/88.csv",
	}, att)
}

// Tests that an upload response without a file ID is an error.
func TestClient_Upload_NoFileID(t *testing.T) {
	c := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"success":false}`)
	})

	_, err := c.Upload(context.Background(),
		channels.FileUpload{Name: "a.txt", Data: []byte("a")})
	require.Error(t, err)
}
