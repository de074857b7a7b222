/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package client talks to a spinnerly server: the HTTP API for rooms and
// history, the per-room websocket channel, and the local creator token store.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/rs/zerolog"
)

// API is the HTTP side of a spinnerly server. It implements spinner.Gateway.
type API struct {
	base   *url.URL
	http   *http.Client
	tokens spinner.Tokens
	log    zerolog.Logger
}

type APIOption func(*API)

func WithHTTPClient(c *http.Client) APIOption {
	return func(a *API) { a.http = c }
}

// WithTokens makes the API present the creator token of a room, when one is
// stored, on the requests that need it.
func WithTokens(t spinner.Tokens) APIOption {
	return func(a *API) { a.tokens = t }
}

func WithAPILogger(l zerolog.Logger) APIOption {
	return func(a *API) { a.log = l }
}

func NewAPI(server string, opts ...APIOption) (*API, error) {
	base, err := parseServer(server)
	if err != nil {
		return nil, err
	}

	a := &API{
		base: base,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

func parseServer(server string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(server), "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: server url: %w", spinner.ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: server url must be http or https, got %q", spinner.ErrValidation, server)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: server url has no host", spinner.ErrValidation)
	}
	return u, nil
}

func (a *API) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return a.base.String() + "/" + strings.Join(escaped, "/")
}

func (a *API) token(code string) string {
	if a.tokens == nil {
		return ""
	}
	token, err := a.tokens.Token(code)
	if err != nil {
		a.log.Warn().Err(err).Str("room", code).Msg("failed to read creator token")
		return ""
	}
	return token
}

// LoadRoom fetches the current state of a room.
func (a *API) LoadRoom(ctx context.Context, roomCode string) (spinner.Room, error) {
	code := spinner.NormalizeRoomCode(roomCode)
	if err := spinner.ValidateRoomCode(code); err != nil {
		return spinner.Room{}, err
	}

	var room spinner.Room
	err := a.do(ctx, http.MethodGet, a.endpoint("api", "rooms", code), a.token(code), nil, &room)
	if err != nil {
		return spinner.Room{}, err
	}
	if room.Names == nil {
		room.Names = []string{}
	}
	return room, nil
}

// CommitSpin durably applies one spin outcome.
func (a *API) CommitSpin(ctx context.Context, req spinner.CommitRequest) error {
	var resp spinner.CommitResponse
	return a.do(ctx, http.MethodPost, a.endpoint("api", "rooms", "spin"), req.CreatorSessionID, req, &resp)
}

// CreateRoom creates a room and returns its code and creator token.
func (a *API) CreateRoom(ctx context.Context, req spinner.CreateRoomRequest) (spinner.CreateRoomResponse, error) {
	var resp spinner.CreateRoomResponse
	if err := a.do(ctx, http.MethodPost, a.endpoint("api", "rooms", "create"), "", req, &resp); err != nil {
		return spinner.CreateRoomResponse{}, err
	}
	return resp, nil
}

// RoomExists reports whether a room code is in use.
func (a *API) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	code := spinner.NormalizeRoomCode(roomCode)
	if err := spinner.ValidateRoomCode(code); err != nil {
		return false, err
	}

	var resp spinner.CheckRoomResponse
	err := a.do(ctx, http.MethodPost, a.endpoint("api", "rooms", "check"), "", spinner.CheckRoomRequest{RoomCode: code}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// History fetches the committed spins of a room, newest first.
func (a *API) History(ctx context.Context, roomCode string) (spinner.HistoryPage, error) {
	code := spinner.NormalizeRoomCode(roomCode)
	if err := spinner.ValidateRoomCode(code); err != nil {
		return spinner.HistoryPage{}, err
	}

	var page spinner.HistoryPage
	if err := a.do(ctx, http.MethodGet, a.endpoint("api", "rooms", code, "history"), "", nil, &page); err != nil {
		return spinner.HistoryPage{}, err
	}
	return page, nil
}

func (a *API) do(ctx context.Context, method, endpoint, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(spinner.CreatorSessionHeader, token)
	}

	start := time.Now()

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	a.log.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("api request")

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError maps a failed response onto the spinner sentinels.
func statusError(resp *http.Response) error {
	var body spinner.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	if body.Error == "" {
		body.Error = http.StatusText(resp.StatusCode)
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = spinner.ErrNotFound
	case resp.StatusCode == http.StatusBadRequest:
		kind = spinner.ErrValidation
	case resp.StatusCode == http.StatusConflict, resp.StatusCode >= 500:
		kind = spinner.ErrPersistence
	default:
		kind = errors.New(http.StatusText(resp.StatusCode))
	}

	return fmt.Errorf("%w: %s", kind, body.Error)
}

var _ spinner.Gateway = (*API)(nil)
