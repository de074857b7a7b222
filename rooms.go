/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/spinnerly/spinner"
	"github.com/Seednode/spinnerly/store"
	"github.com/go-playground/validator/v10"
	"github.com/julienschmidt/httprouter"
	"github.com/samber/lo"
	"github.com/skip2/go-qrcode"
)

const (
	maxBodySize      = 256 << 10
	roomCodeAttempts = 10
	qrSize           = 320
)

var validate = validator.New()

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// instrument counts requests to an API route by status.
func instrument(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r, ps)
		httpRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) {
	data, err := json.Marshal(v)
	if err != nil {
		errs <- err
		status = http.StatusInternalServerError
		data = []byte(`{"success":false,"error":"internal error"}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		errs <- err
	}
}

func writeError(cfg *Config, w http.ResponseWriter, status int, msg string, errs chan<- error) {
	writeJSON(cfg, w, status, spinner.ErrorResponse{Error: msg}, errs)
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(cfg *Config, w http.ResponseWriter, err error, errs chan<- error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(cfg, w, http.StatusNotFound, "Room not found", errs)
	case errors.Is(err, store.ErrConflict):
		writeError(cfg, w, http.StatusConflict, err.Error(), errs)
	case errors.Is(err, store.ErrInvalid):
		writeError(cfg, w, http.StatusBadRequest, err.Error(), errs)
	default:
		errs <- err
		writeError(cfg, w, http.StatusInternalServerError, "Internal server error", errs)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validationMessage turns validator output into something a person can act on.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		switch {
		case fe.Field() == "Materials" && fe.Tag() == "eqfield":
			return "the number of names must equal the number of materials"
		case fe.Tag() == "min":
			return fmt.Sprintf("%s needs at least %s entries", strings.ToLower(fe.Field()), fe.Param())
		case fe.Tag() == "required":
			return fmt.Sprintf("%s must not be empty", strings.ToLower(fe.Field()))
		default:
			return fmt.Sprintf("%s is invalid (%s)", strings.ToLower(fe.Field()), fe.Tag())
		}
	})

	return strings.Join(lo.Uniq(msgs), "; ")
}

func trimAll(values []string) []string {
	return lo.Map(values, func(v string, _ int) string { return strings.TrimSpace(v) })
}

func randomRoomCode() (string, error) {
	limit := big.NewInt(int64(len(spinner.RoomCodeAlphabet)))
	out := make([]byte, spinner.RoomCodeLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		out[i] = spinner.RoomCodeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// newRoomCode draws codes until one is free. After roomCodeAttempts draws the
// last one is used anyway and the insert decides.
func newRoomCode(ctx context.Context, st *store.Store) (string, error) {
	var code string
	for range roomCodeAttempts {
		var err error
		code, err = randomRoomCode()
		if err != nil {
			return "", err
		}

		exists, err := st.CodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return code, nil
}

func serveCreateRoom(cfg *Config, st *store.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req spinner.CreateRoomRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, err.Error(), errs)
			return
		}

		req.RoomName = strings.TrimSpace(req.RoomName)
		req.Names = trimAll(req.Names)
		req.Materials = trimAll(req.Materials)

		if err := validate.Struct(req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, validationMessage(err), errs)
			return
		}

		code, err := newRoomCode(r.Context(), st)
		if err != nil {
			writeStoreError(cfg, w, err, errs)
			return
		}

		room, err := st.CreateRoom(r.Context(), store.NewRoom{
			RoomCode:  code,
			RoomName:  req.RoomName,
			Names:     req.Names,
			Materials: req.Materials,
		})
		if err != nil {
			writeStoreError(cfg, w, err, errs)
			return
		}

		roomsCreated.Inc()

		writeJSON(cfg, w, http.StatusOK, spinner.CreateRoomResponse{
			Success:          true,
			RoomID:           room.ID,
			RoomCode:         room.RoomCode,
			CreatorSessionID: room.CreatorSessionID,
		}, errs)

		logf(cfg, "ROOMS: Created room %s (%d names) for %s in %s",
			room.RoomCode,
			len(room.Names),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveCheckRoom(cfg *Config, st *store.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req spinner.CheckRoomRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, err.Error(), errs)
			return
		}

		code := spinner.NormalizeRoomCode(req.RoomCode)
		if len(code) != spinner.RoomCodeLength {
			writeError(cfg, w, http.StatusBadRequest, "Invalid room code", errs)
			return
		}

		exists, err := st.CodeExists(r.Context(), code)
		if err != nil {
			writeStoreError(cfg, w, err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, spinner.CheckRoomResponse{Exists: exists}, errs)
	}
}

func serveCommitSpin(cfg *Config, st *store.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req spinner.CommitRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, err.Error(), errs)
			return
		}

		if err := validate.Struct(req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, validationMessage(err), errs)
			return
		}

		req.CreatorSessionID = r.Header.Get(spinner.CreatorSessionHeader)
		if req.CreatorSessionID == "" {
			writeError(cfg, w, http.StatusForbidden, "Missing creator session", errs)
			return
		}

		room, err := st.CommitSpin(r.Context(), req)
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				commitConflicts.Inc()
				logf(cfg, "SPINS: Rejected commit for room %s from %s: %v", req.RoomID, realIP(r), err)
			}
			writeStoreError(cfg, w, err, errs)
			return
		}

		spinsCommitted.Inc()

		room.CreatorSessionID = ""
		writeJSON(cfg, w, http.StatusOK, spinner.CommitResponse{Success: true, Room: room}, errs)

		logf(cfg, "SPINS: %s receives %s in room %s (version %d) in %s",
			req.SelectedName,
			req.AssignedMaterial,
			room.RoomCode,
			room.Version,
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// lookupRoom resolves :code and writes the error response itself when it
// fails.
func lookupRoom(cfg *Config, st *store.Store, w http.ResponseWriter, r *http.Request, ps httprouter.Params, errs chan<- error) (spinner.Room, bool) {
	code := spinner.NormalizeRoomCode(ps.ByName("code"))
	if err := spinner.ValidateRoomCode(code); err != nil {
		writeError(cfg, w, http.StatusBadRequest, err.Error(), errs)
		return spinner.Room{}, false
	}

	room, err := st.RoomByCode(r.Context(), code)
	if err != nil {
		writeStoreError(cfg, w, err, errs)
		return spinner.Room{}, false
	}

	return room, true
}

func serveRoom(cfg *Config, st *store.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := lookupRoom(cfg, st, w, r, ps, errs)
		if !ok {
			return
		}

		token := r.Header.Get(spinner.CreatorSessionHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(room.CreatorSessionID)) != 1 {
			room.CreatorSessionID = ""
		}

		writeJSON(cfg, w, http.StatusOK, room, errs)
	}
}

func serveHistory(cfg *Config, st *store.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		room, ok := lookupRoom(cfg, st, w, r, ps, errs)
		if !ok {
			return
		}

		history, err := st.History(r.Context(), room.ID)
		if err != nil {
			writeStoreError(cfg, w, err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, spinner.HistoryPage{
			RoomCode: room.RoomCode,
			RoomName: room.RoomName,
			Complete: room.Complete(),
			History:  history,
		}, errs)
	}
}

// serveQR renders a PNG QR code of the room page URL.
func serveQR(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := spinner.NormalizeRoomCode(ps.ByName("code"))
		if err := spinner.ValidateRoomCode(code); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		scheme := cfg.scheme()
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/room/" + code

		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func registerRooms(cfg *Config, st *store.Store, rm *RoomManager, mux *httprouter.Router, errs chan<- error) {
	mux.POST(cfg.prefix+"/api/rooms/create", instrument("create", serveCreateRoom(cfg, st, errs)))
	mux.POST(cfg.prefix+"/api/rooms/check", instrument("check", serveCheckRoom(cfg, st, errs)))
	mux.POST(cfg.prefix+"/api/rooms/spin", instrument("spin", serveCommitSpin(cfg, st, errs)))
	mux.GET(cfg.prefix+"/api/rooms/:code", instrument("room", serveRoom(cfg, st, errs)))
	mux.GET(cfg.prefix+"/api/rooms/:code/history", instrument("history", serveHistory(cfg, st, errs)))

	mux.GET(cfg.prefix+"/room/:code", serveRoomPage(cfg, st, errs))
	mux.GET(cfg.prefix+"/room/:code/ws", serveWS(cfg, rm))
	mux.GET(cfg.prefix+"/room/:code/qr", serveQR(cfg))
}
