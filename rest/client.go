////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package rest implements the history fetch and attachment upload
// collaborators of the channel manager over HTTP.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/valyala/fasthttp"

	"gitlab.com/elite-erp/chatcore/channels"
)

// Params configures the REST client.
type Params struct {
	// BaseURL is the scheme and host of the chat server, for example
	// https://chat.example.com.
	BaseURL string

	// Team is the team whose channels are fetched.
	Team string

	// Token is sent as a bearer token on every request when not empty.
	Token string

	// Timeout bounds a single request when the context has no earlier
	// deadline.
	Timeout time.Duration

	// MaxConnsPerHost limits the connection pool of the client.
	MaxConnsPerHost int
}

// GetDefaultParams returns a default set of Params with no server set.
func GetDefaultParams() Params {
	return Params{
		Timeout:         15 * time.Second,
		MaxConnsPerHost: 16,
	}
}

// Client talks to the chat server's REST API. It adheres to the
// channels.Fetcher and channels.FileStore interfaces.
type Client struct {
	params Params
	http   *fasthttp.Client
}

var (
	_ channels.Fetcher   = (*Client)(nil)
	_ channels.FileStore = (*Client)(nil)
)

// NewClient returns a client for the server in params.
func NewClient(params Params) (*Client, error) {
	return newClient(params, nil)
}

// newClient builds the client with an optional dialer.
func newClient(params Params, dial fasthttp.DialFunc) (*Client, error) {
	base, err := url.Parse(params.BaseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base URL %q", params.BaseURL)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf(
			"base URL %q must have a scheme and host", params.BaseURL)
	}
	if params.Team == "" {
		return nil, errors.New("no team set")
	}

	return &Client{
		params: params,
		http: &fasthttp.Client{
			Name:            "chatcore",
			MaxConnsPerHost: params.MaxConnsPerHost,
			Dial:            dial,
		},
	}, nil
}

// historyPath returns the path of a channel's message history.
func (c *Client) historyPath(channelID channels.ChannelID) string {
	return fmt.Sprintf("%s/api/teams/%s/channels/%d/messages",
		c.params.BaseURL, url.PathEscape(c.params.Team), channelID)
}

// FetchPage returns the page of messages older than before, or the most
// recent page when before is zero.
func (c *Client) FetchPage(ctx context.Context, channelID channels.ChannelID,
	before channels.MessageID, limit int) (channels.Page, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.historyPath(channelID))
	req.Header.SetMethod(fasthttp.MethodGet)
	args := req.URI().QueryArgs()
	args.Add("type", "channel")
	args.Add("limit", strconv.Itoa(limit))
	if before > 0 {
		args.Add("beforeId", strconv.FormatInt(int64(before), 10))
	}

	if err := c.do(ctx, "history fetch", req, resp); err != nil {
		return channels.Page{}, err
	}

	var page channels.Page
	if err := json.Unmarshal(resp.Body(), &page); err != nil {
		return channels.Page{}, errors.Wrapf(err,
			"failed to decode history page of channel %d", channelID)
	}
	for i := range page.Messages {
		if page.Messages[i].ChannelID == 0 {
			page.Messages[i].ChannelID = channelID
		}
	}

	jww.DEBUG.Printf("[REST] Fetched %d messages of channel %d before %d "+
		"(hasMore: %t)", len(page.Messages), channelID, before, page.HasMore)

	return page, nil
}

// uploadResponse is the body returned by the file upload endpoint.
type uploadResponse struct {
	Success bool                `json:"success"`
	File    channels.Attachment `json:"file"`
}

// Upload stores the file on the server and returns its reference.
func (c *Client) Upload(
	ctx context.Context, file channels.FileUpload) (channels.Attachment, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", file.Name)
	if err != nil {
		return channels.Attachment{}, errors.Wrap(err, "failed to build form")
	}
	if _, err = part.Write(file.Data); err != nil {
		return channels.Attachment{}, errors.Wrap(err, "failed to build form")
	}
	if err = form.Close(); err != nil {
		return channels.Attachment{}, errors.Wrap(err, "failed to build form")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.params.BaseURL + "/api/files")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(form.FormDataContentType())
	req.SetBody(body.Bytes())

	if err = c.do(ctx, "attachment upload", req, resp); err != nil {
		return channels.Attachment{}, err
	}

	var ur uploadResponse
	if err = json.Unmarshal(resp.Body(), &ur); err != nil {
		return channels.Attachment{}, errors.Wrapf(err,
			"failed to decode upload response for %q", file.Name)
	}
	if ur.File.ID <= 0 {
		return channels.Attachment{}, errors.Errorf(
			"upload of %q returned no file ID", file.Name)
	}

	jww.DEBUG.Printf("[REST] Uploaded %q (%d bytes) as file %d",
		file.Name, len(file.Data), ur.File.ID)

	return ur.File, nil
}

// errorResponse is the body returned by the server on failure.
type errorResponse struct {
	Error string `json:"error"`
}

// do sends the request, bounded by the earlier of the context deadline and
// the client timeout. Transport failures, timeouts and server-side errors
// (5xx and 429) are returned as channels.RetryableError.
func (c *Client) do(ctx context.Context, op string,
	req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return &channels.RetryableError{Op: op, Err: err}
	}

	if c.params.Token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+c.params.Token)
	}
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	deadline := time.Now().Add(c.params.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	jww.TRACE.Printf("[REST] %s %s", req.Header.Method(), req.URI())

	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		jww.WARN.Printf("[REST] %s %s failed: %+v",
			req.Header.Method(), req.URI(), err)
		return &channels.RetryableError{Op: op, Err: err}
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusOK && status < fasthttp.StatusMultipleChoices {
		return nil
	}

	reason := fasthttp.StatusMessage(status)
	var er errorResponse
	if json.Unmarshal(resp.Body(), &er) == nil && er.Error != "" {
		reason = er.Error
	}
	err := errors.Errorf("server returned %d: %s", status, reason)

	if status >= fasthttp.StatusInternalServerError ||
		status == fasthttp.StatusTooManyRequests {
		return &channels.RetryableError{Op: op, Err: err}
	}
	return errors.WithMessage(err, op)
}
