package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// BridgeClient talks to the upstream chat bridge over HTTP+JSON: a shared
// *http.Client, a fixed base URL, and typed request/response envelopes.
// The bridge is a trusted local RPC surface, so there is no request
// signing beyond the bearer token.
type BridgeClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewBridgeClient builds a client against a running bridge instance.
func NewBridgeClient(baseURL, token string, timeout time.Duration) *BridgeClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &BridgeClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

type rpcEnvelope struct {
	Error *rpcError       `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *BridgeClient) call(ctx context.Context, method string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: marshal params: %v", ErrProtocol, err)
	}

	u, err := url.JoinPath(c.baseURL, "rpc", method)
	if err != nil {
		return fmt.Errorf("%w: build url: %v", ErrProtocol, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrProtocol, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransientNetwork, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrTransientNetwork, err)
	}

	if err := classifyStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("%w: %s", err, string(respBody))
	}

	var env rpcEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrProtocol, err)
	}
	if env.Error != nil {
		return classifyRPCError(env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrProtocol, err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return ErrPermissionDenied
	case code >= 500:
		return ErrTransientNetwork
	default:
		return ErrProtocol
	}
}

func classifyRPCError(e *rpcError) error {
	switch e.Code {
	case "rate_limited":
		return fmt.Errorf("%w: %s", ErrRateLimited, e.Message)
	case "not_found":
		return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
	case "permission_denied":
		return fmt.Errorf("%w: %s", ErrPermissionDenied, e.Message)
	case "transient":
		return fmt.Errorf("%w: %s", ErrTransientNetwork, e.Message)
	default:
		return fmt.Errorf("%w: %s", ErrProtocol, e.Message)
	}
}

func (c *BridgeClient) ListGroups(ctx context.Context) ([]GroupSummary, error) {
	var out []GroupSummary
	if err := c.call(ctx, "listGroups", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) ListFriends(ctx context.Context) ([]FriendSummary, error) {
	var out []FriendSummary
	if err := c.call(ctx, "listFriends", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) ResolveDisplayName(ctx context.Context, ref ChatRef) (string, error) {
	var out struct {
		DisplayName string `json:"displayName"`
	}
	params := map[string]any{"chatType": ref.ChatType, "peerUid": ref.PeerUID, "guildId": ref.GuildID}
	if err := c.call(ctx, "resolveDisplayName", params, &out); err != nil {
		return "", err
	}
	return out.DisplayName, nil
}

func (c *BridgeClient) GetLatestMessages(ctx context.Context, ref ChatRef, count int) ([]RawMessage, error) {
	var out []RawMessage
	params := map[string]any{"chatType": ref.ChatType, "peerUid": ref.PeerUID, "guildId": ref.GuildID, "count": count}
	if err := c.call(ctx, "getAioFirstViewLatestMsgs", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) GetMessageHistory(ctx context.Context, ref ChatRef, anchorMsgID string, count int, forward bool) ([]RawMessage, error) {
	var out []RawMessage
	params := map[string]any{
		"chatType": ref.ChatType, "peerUid": ref.PeerUID, "guildId": ref.GuildID,
		"anchorMsgId": anchorMsgID, "count": count, "forward": forward,
	}
	if err := c.call(ctx, "getMsgHistory", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) GetMessagesBySeqRange(ctx context.Context, ref ChatRef, seqStart, seqEnd string) ([]RawMessage, error) {
	var out []RawMessage
	params := map[string]any{
		"chatType": ref.ChatType, "peerUid": ref.PeerUID, "guildId": ref.GuildID,
		"seqStart": seqStart, "seqEnd": seqEnd,
	}
	if err := c.call(ctx, "getMsgsBySeqRange", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) DownloadMedia(ctx context.Context, msgID string, chatType ChatType, peerUID, elementID, destPath string) (*DownloadResult, error) {
	var out DownloadResult
	params := map[string]any{
		"msgId": msgID, "chatType": chatType, "peerUid": peerUID,
		"elementId": elementID, "destPath": destPath,
	}
	if err := c.call(ctx, "downloadMedia", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *BridgeClient) ResolvePttUrl(ctx context.Context, peerUID, fileUUID string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	params := map[string]any{"peerUid": peerUID, "fileUuid": fileUUID}
	if err := c.call(ctx, "getPttUrl", params, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

var _ Adapter = (*BridgeClient)(nil)
