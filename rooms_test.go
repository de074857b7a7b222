/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/spinnerly/client"
	"github.com/Seednode/spinnerly/spinner"
	"github.com/Seednode/spinnerly/store"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	cfg *Config
	srv *httptest.Server
	st  *store.Store
	rm  *RoomManager
	api *client.API
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &Config{
		database:       filepath.Join(t.TempDir(), "spinnerly.db"),
		port:           8080,
		sessionTimeout: time.Minute,
	}

	st, err := store.Open(cfg.database)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	errs := make(chan error, 64)
	go drainErrors(cfg, errs)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	rm := newRoomManager(ctx, st, cfg.sessionTimeout)

	srv := httptest.NewServer(newRouter(cfg, st, rm, errs))
	t.Cleanup(srv.Close)

	// Runs before srv.Close so hijacked connections are released first.
	t.Cleanup(rm.closeAll)

	api, err := client.NewAPI(srv.URL)
	require.NoError(t, err)

	return &testServer{cfg: cfg, srv: srv, st: st, rm: rm, api: api}
}

func (ts *testServer) createRoom(t *testing.T, names, materials []string) spinner.CreateRoomResponse {
	t.Helper()

	resp, err := ts.api.CreateRoom(context.Background(), spinner.CreateRoomRequest{
		RoomName:  "Friday",
		Names:     names,
		Materials: materials,
	})
	require.NoError(t, err)
	require.True(t, resp.Success)
	return resp
}

func postJSON(t *testing.T, url, body string, header http.Header) (int, spinner.ErrorResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out spinner.ErrorResponse
	_ = json.Unmarshal(data, &out)
	return resp.StatusCode, out
}

func TestCreateRoomValidation(t *testing.T) {
	ts := newTestServer(t)
	url := ts.srv.URL + "/api/rooms/create"

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed", `{"roomName":`, "invalid request body"},
		{"missing room name", `{"roomName":"  ","names":["a","b"],"materials":["x","y"]}`, "roomname must not be empty"},
		{"one name", `{"roomName":"r","names":["a"],"materials":["x","y"]}`, "names needs at least 2 entries"},
		{"count mismatch", `{"roomName":"r","names":["a","b","c"],"materials":["x","y"]}`, "the number of names must equal the number of materials"},
		{"blank name", `{"roomName":"r","names":["a"," "],"materials":["x","y"]}`, "must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := postJSON(t, url, tt.body, nil)
			require.Equal(t, http.StatusBadRequest, status)
			require.False(t, body.Success)
			require.Contains(t, body.Error, tt.want)
		})
	}
}

func TestCreateAndCheckRoom(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	ctx := context.Background()

	created := ts.createRoom(t, []string{" Ada ", "Grace"}, []string{"M1", "M2"})
	req.Len(created.RoomCode, spinner.RoomCodeLength)
	req.NotEmpty(created.RoomID)
	req.NotEmpty(created.CreatorSessionID)

	exists, err := ts.api.RoomExists(ctx, strings.ToLower(created.RoomCode))
	req.NoError(err)
	req.True(exists)

	exists, err = ts.api.RoomExists(ctx, "ZZZZZZ")
	req.NoError(err)
	req.False(exists)

	status, _ := postJSON(t, ts.srv.URL+"/api/rooms/check", `{"roomCode":"AB"}`, nil)
	req.Equal(http.StatusBadRequest, status)

	room, err := ts.api.LoadRoom(ctx, created.RoomCode)
	req.NoError(err)
	req.Equal("Friday", room.RoomName)
	req.Equal([]string{"Ada", "Grace"}, room.Names)
	req.Empty(room.CreatorSessionID)

	_, err = ts.api.LoadRoom(ctx, "ZZZZZZ")
	req.ErrorIs(err, spinner.ErrNotFound)
}

func TestLoadRoomRevealsTokenToCreatorOnly(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	ctx := context.Background()

	created := ts.createRoom(t, []string{"Ada", "Grace"}, []string{"M1", "M2"})

	tokens, err := client.OpenMemoryTokens()
	req.NoError(err)
	t.Cleanup(func() { _ = tokens.Close() })

	creator, err := client.NewAPI(ts.srv.URL, client.WithTokens(tokens))
	req.NoError(err)

	req.NoError(tokens.Save(created.RoomCode, "not-the-token"))
	room, err := creator.LoadRoom(ctx, created.RoomCode)
	req.NoError(err)
	req.Empty(room.CreatorSessionID)

	req.NoError(tokens.Save(created.RoomCode, created.CreatorSessionID))
	room, err = creator.LoadRoom(ctx, created.RoomCode)
	req.NoError(err)
	req.Equal(created.CreatorSessionID, room.CreatorSessionID)
}

func TestCommitSpin(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	ctx := context.Background()

	created := ts.createRoom(t, []string{"Ada", "Grace", "Linus"}, []string{"M1", "M2", "M3"})

	version := int64(0)
	commit := spinner.CommitRequest{
		RoomID:            created.RoomID,
		SelectedName:      "Grace",
		AssignedMaterial:  "M1",
		RemainingNames:    []string{"Ada", "Linus"},
		NextMaterialIndex: 1,
		ExpectedVersion:   &version,
		CreatorSessionID:  created.CreatorSessionID,
	}

	req.NoError(ts.api.CommitSpin(ctx, commit))

	// The same outcome a second time is stale.
	err := ts.api.CommitSpin(ctx, commit)
	req.ErrorIs(err, spinner.ErrPersistence)

	room, err := ts.api.LoadRoom(ctx, created.RoomCode)
	req.NoError(err)
	req.Equal(int64(1), room.Version)
	req.Equal(1, room.CurrentMaterialIndex)
	req.Equal([]string{"Ada", "Linus"}, room.Names)

	page, err := ts.api.History(ctx, created.RoomCode)
	req.NoError(err)
	req.Equal(created.RoomCode, page.RoomCode)
	req.Equal("Friday", page.RoomName)
	req.False(page.Complete)
	req.Len(page.History, 1)
	req.Equal("Grace", page.History[0].SelectedName)
	req.Equal("M1", page.History[0].AssignedMaterial)
}

func TestCommitSpinRejections(t *testing.T) {
	ts := newTestServer(t)
	created := ts.createRoom(t, []string{"Ada", "Grace"}, []string{"M1", "M2"})
	url := ts.srv.URL + "/api/rooms/spin"

	body := `{"roomId":"` + created.RoomID + `","selectedName":"Ada","assignedMaterial":"M1","remainingNames":["Grace"],"nextMaterialIndex":1}`

	tests := []struct {
		name   string
		body   string
		token  string
		status int
	}{
		{"no creator session", body, "", http.StatusForbidden},
		{"wrong creator session", body, "nope", http.StatusConflict},
		{"missing fields", `{"roomId":"` + created.RoomID + `"}`, created.CreatorSessionID, http.StatusBadRequest},
		{"unknown room", strings.Replace(body, created.RoomID, "missing", 1), created.CreatorSessionID, http.StatusNotFound},
		{"wrong material", strings.Replace(body, `"M1"`, `"M2"`, 1), created.CreatorSessionID, http.StatusConflict},
		{"name kept on the wheel", strings.Replace(body, `["Grace"]`, `["Ada"]`, 1), created.CreatorSessionID, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.token != "" {
				header.Set(spinner.CreatorSessionHeader, tt.token)
			}

			status, resp := postJSON(t, url, tt.body, header)
			require.Equal(t, tt.status, status)
			require.NotEmpty(t, resp.Error)
		})
	}

	room, err := ts.st.RoomByCode(context.Background(), created.RoomCode)
	require.NoError(t, err)
	require.Equal(t, int64(0), room.Version)
}

func TestRoomPages(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	created := ts.createRoom(t, []string{"<b>Ada</b>", "Grace"}, []string{"M1", "M2"})

	resp, err := http.Get(ts.srv.URL + "/room/" + strings.ToLower(created.RoomCode))
	req.NoError(err)
	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	req.NoError(err)

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Contains(string(data), created.RoomCode)
	req.Contains(string(data), "&lt;b&gt;Ada&lt;/b&gt;")
	req.NotContains(string(data), created.CreatorSessionID)

	resp, err = http.Get(ts.srv.URL + "/room/" + created.RoomCode + "/qr")
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("image/png", resp.Header.Get("Content-Type"))

	resp, err = http.Get(ts.srv.URL + "/room/ZZZZZZ")
	req.NoError(err)
	_ = resp.Body.Close()
	req.Equal(http.StatusNotFound, resp.StatusCode)
}
