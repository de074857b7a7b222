/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/Seednode/spinnerly/store"
	"github.com/julienschmidt/httprouter"
)

func serveHomePage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body strings.Builder

		body.WriteString(`<h1>spinnerly</h1>`)
		body.WriteString(`<p>Create a room with <code>spinnerly create</code>, then share its code.</p>`)
		body.WriteString(`<p>Join one with <code>spinnerly join CODE</code>, or open <code>`)
		body.WriteString(html.EscapeString(cfg.prefix + "/room/CODE"))
		body.WriteString(`</code> to follow along.</p>`)

		data := newPage("spinnerly", body.String())

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		if _, err := w.Write([]byte(data)); err != nil {
			errs <- err
		}
	}
}

// serveRoomPage renders the room's current state and its history.
func serveRoomPage(cfg *Config, st *store.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		code := spinner.NormalizeRoomCode(ps.ByName("code"))
		room, err := st.RoomByCode(r.Context(), code)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(newPage("Room not found", "<p>Room "+html.EscapeString(code)+" does not exist.</p>")))
			return
		}

		history, err := st.History(r.Context(), room.ID)
		if err != nil {
			errs <- err
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(newPage("Server Error", "An error has occurred. Please try again.")))
			return
		}

		data := newPage(room.RoomName, roomPageBody(cfg, room, history))

		written, err := w.Write([]byte(data))
		if err != nil {
			errs <- err
			return
		}

		logf(cfg, "SERVE: Room page %s (%s) to %s in %s",
			room.RoomCode,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func roomPageBody(cfg *Config, room spinner.Room, history []spinner.HistoryEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "<h1>%s</h1>", html.EscapeString(room.RoomName))
	fmt.Fprintf(&b, "<p>Room code: <strong>%s</strong></p>", room.RoomCode)
	fmt.Fprintf(&b, `<p><img src="%s/room/%s/qr" alt="QR code for room %s" width="160" height="160"></p>`,
		html.EscapeString(cfg.prefix), room.RoomCode, room.RoomCode)

	if room.Complete() {
		b.WriteString("<p>Status: complete</p>")
	} else {
		fmt.Fprintf(&b, "<p>Status: in progress. Next material: <strong>%s</strong> (%d of %d)</p>",
			html.EscapeString(room.CurrentMaterial()), room.CurrentMaterialIndex+1, len(room.Materials))

		b.WriteString("<h2>Still on the wheel</h2><ul>")
		for _, name := range room.Names {
			fmt.Fprintf(&b, "<li>%s</li>", html.EscapeString(name))
		}
		b.WriteString("</ul>")
	}

	b.WriteString("<h2>History</h2>")
	if len(history) == 0 {
		b.WriteString("<p>No spins yet.</p>")
		return b.String()
	}

	b.WriteString("<table><thead><tr><th>Name</th><th>Material</th><th>Time</th></tr></thead><tbody>")
	for _, h := range history {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td></tr>",
			html.EscapeString(h.SelectedName),
			html.EscapeString(h.AssignedMaterial),
			spunAt(h.SpunAt))
	}
	b.WriteString("</tbody></table>")

	return b.String()
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: *
Disallow: /api/
Disallow: /room/`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
