////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 Tessera Labs                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"

	"gitlab.com/tessera/chatsync/conversation"
)

// Default per-request timeout when the caller's context carries no deadline.
const defaultRequestTimeout = 15 * time.Second

// RestClient is the synchronous request path: sends, reaction changes, and
// read marks when the event channel is down, and the paged history endpoint
// at all times. It implements conversation.Requestor and
// conversation.History.
type RestClient struct {
	baseURL string
	token   string
	client  *fasthttp.Client
}

// NewRestClient returns a client for the given API base URL.
func NewRestClient(baseURL, token string) *RestClient {
	return &RestClient{
		baseURL: baseURL,
		token:   token,
		client:  &fasthttp.Client{},
	}
}

type sendMessageRequest struct {
	TempID   string `json:"clientTempId"`
	Content  string `json:"content"`
	MediaRef string `json:"mediaRef,omitempty"`
	ReplyTo  string `json:"replyTo,omitempty"`
}

type addReactionRequest struct {
	Kind string `json:"kind"`
}

// SendMessage implements conversation.Requestor.
func (rc *RestClient) SendMessage(ctx context.Context, conversationID,
	tempID string, p conversation.SendPayload) (
	*conversation.Message, error) {
	uri := fmt.Sprintf("/v1/conversations/%s/messages",
		url.PathEscape(conversationID))
	body := sendMessageRequest{
		TempID:   tempID,
		Content:  p.Content,
		MediaRef: p.MediaRef,
		ReplyTo:  p.ReplyTo,
	}

	var msg conversation.Message
	if err := rc.doJSON(ctx, fasthttp.MethodPost, uri, body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AddReaction implements conversation.Requestor.
func (rc *RestClient) AddReaction(ctx context.Context,
	messageID conversation.MessageID, kind string) error {
	uri := fmt.Sprintf("/v1/messages/%s/reactions", messageID)
	return rc.doJSON(
		ctx, fasthttp.MethodPost, uri, addReactionRequest{Kind: kind}, nil)
}

// RemoveReaction implements conversation.Requestor.
func (rc *RestClient) RemoveReaction(ctx context.Context,
	messageID conversation.MessageID, kind string) error {
	uri := fmt.Sprintf("/v1/messages/%s/reactions/%s", messageID,
		url.PathEscape(kind))
	return rc.doJSON(ctx, fasthttp.MethodDelete, uri, nil, nil)
}

// MarkRead implements conversation.Requestor.
func (rc *RestClient) MarkRead(ctx context.Context,
	messageID conversation.MessageID) error {
	uri := fmt.Sprintf("/v1/messages/%s/read", messageID)
	return rc.doJSON(ctx, fasthttp.MethodPost, uri, nil, nil)
}

// FetchPage implements conversation.History. Page numbering is 1-based,
// ascending from oldest.
func (rc *RestClient) FetchPage(ctx context.Context, conversationID string,
	page, pageSize int) (*conversation.HistoryResponse, error) {
	uri := fmt.Sprintf("/v1/conversations/%s/messages?page=%d&pageSize=%d",
		url.PathEscape(conversationID), page, pageSize)

	var resp conversation.HistoryResponse
	if err := rc.doJSON(ctx, fasthttp.MethodGet, uri, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON performs one request with a JSON body and decodes a JSON response
// into out when out is non-nil. fasthttp has no context plumbing, so the
// context's deadline is translated into a request timeout.
func (rc *RestClient) doJSON(ctx context.Context, method, uri string,
	body, out interface{}) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rc.baseURL + uri)
	req.Header.SetMethod(method)
	if rc.token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.token)
	}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request body")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(data)
	}

	timeout := defaultRequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	if err := rc.client.DoTimeout(req, resp, timeout); err != nil {
		return errors.Wrapf(err, "%s %s failed", method, uri)
	}

	if sc := resp.StatusCode(); sc < fasthttp.StatusOK ||
		sc >= fasthttp.StatusMultipleChoices {
		return errors.Errorf("%s %s returned %d: %s", method, uri, sc,
			resp.Body())
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return errors.Wrapf(err, "undecodable %s %s response", method,
				uri)
		}
	}
	return nil
}
