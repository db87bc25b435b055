// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/relabs-tech/ground_station/internal/broadcast"
	"github.com/relabs-tech/ground_station/internal/sink"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // dashboard is served from the same box, often by IP
	},
}

// Status is the body of GET /api/status.
type Status struct {
	Counters    Counters              `json:"counters"`
	Subscribers int                   `json:"subscribers"`
	Consoles    int                   `json:"consoles"`
	TailCursor  int64                 `json:"tail_cursor"`
	TrackFixes  int                   `json:"track_fixes"`
	Sinks       map[string]sink.Stats `json:"sinks"`
}

// Web serves the dashboard: log streams over WebSocket, control operations
// and file downloads.
type Web struct {
	st  *Station
	log *zap.Logger
}

func NewWeb(st *Station, logger *zap.Logger) *Web {
	return &Web{st: st, log: logger.Named("web")}
}

// Routes builds the handler tree.
func (wb *Web) Routes() http.Handler {
	mux := http.NewServeMux()

	static := http.FileServer(http.Dir(wb.st.cfg.WebStaticDir))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			wb.serveLog(w, r)
			return
		}
		static.ServeHTTP(w, r)
	})
	for _, p := range []string{"/data", "/status", "/visualization"} {
		mux.HandleFunc(p, wb.serveLog)
	}
	mux.HandleFunc("/console", wb.serveConsole)

	mux.HandleFunc("POST /reset/csv", wb.resetLog)
	mux.HandleFunc("GET /backups", wb.listBackups)
	mux.HandleFunc("GET /download/backup", wb.downloadBackup)
	mux.HandleFunc("DELETE /delete/backup", wb.deleteBackup)
	mux.HandleFunc("GET /download/csv", func(w http.ResponseWriter, r *http.Request) {
		wb.download(w, r, wb.st.writer.Path(), "text/csv")
	})
	mux.HandleFunc("GET /download/kml", func(w http.ResponseWriter, r *http.Request) {
		wb.download(w, r, wb.st.track.Path(), "application/vnd.google-earth.kml+xml")
	})
	mux.HandleFunc("GET /api/status", wb.status)
	mux.Handle("GET /config/", http.StripPrefix("/config/", http.FileServer(http.Dir(wb.st.cfg.WebConfigDir))))

	return mux
}

// serveLog sends the whole log, then every appended byte range.
func (wb *Web) serveLog(w http.ResponseWriter, r *http.Request) {
	wb.stream(w, r, "log", wb.st.notifier.Join, wb.st.notifier.Leave)
}

// serveConsole sends raw received lines, without history.
func (wb *Web) serveConsole(w http.ResponseWriter, r *http.Request) {
	hub := wb.st.rawHub
	wb.stream(w, r, "console", func() (*broadcast.Subscriber, error) {
		return hub.Subscribe(nil)
	}, hub.Unsubscribe)
}

func (wb *Web) stream(w http.ResponseWriter, r *http.Request, kind string,
	join func() (*broadcast.Subscriber, error), leave func(*broadcast.Subscriber)) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wb.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, err := join()
	if err != nil {
		wb.log.Warn("subscribe failed", zap.String("stream", kind), zap.Error(err))
		return
	}
	defer leave(sub)

	log := wb.log.With(zap.String("stream", kind), zap.String("client", sub.ID), zap.String("remote", r.RemoteAddr))
	log.Info("client connected")

	// clients never send; reading only surfaces the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Info("client write failed", zap.Error(err))
				return
			}
		case <-gone:
			log.Info("client disconnected", zap.Any("stats", sub.Stats()))
			return
		}
	}
}

func (wb *Web) resetLog(w http.ResponseWriter, r *http.Request) {
	if err := wb.st.writer.Reset(); err != nil {
		wb.log.Error("log reset failed", zap.Error(err))
		http.Error(w, "Error resetting CSV", http.StatusInternalServerError)
		return
	}
	w.Write([]byte("CSV reset successfully"))
}

func (wb *Web) listBackups(w http.ResponseWriter, r *http.Request) {
	list, err := wb.st.backup.List()
	if err != nil {
		wb.log.Error("list backups failed", zap.Error(err))
		http.Error(w, "Error listing backups", http.StatusInternalServerError)
		return
	}
	writeJSON(w, list, wb.log)
}

func (wb *Web) downloadBackup(w http.ResponseWriter, r *http.Request) {
	path, ok := wb.backupPath(w, r)
	if !ok {
		return
	}
	wb.download(w, r, path, "application/octet-stream")
}

func (wb *Web) deleteBackup(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	err := wb.st.backup.Delete(name)
	switch {
	case errors.Is(err, sink.ErrInvalidName):
		http.Error(w, "Invalid file name", http.StatusBadRequest)
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "Backup not found", http.StatusNotFound)
	case err != nil:
		wb.log.Error("delete backup failed", zap.Error(err))
		http.Error(w, "Error deleting backup", http.StatusInternalServerError)
	default:
		w.Write([]byte("Backup deleted"))
	}
}

func (wb *Web) backupPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path, err := wb.st.backup.Path(r.URL.Query().Get("file"))
	if err != nil {
		http.Error(w, "Invalid file name", http.StatusBadRequest)
		return "", false
	}
	return path, true
}

// download serves path as an attachment.
func (wb *Web) download(w http.ResponseWriter, r *http.Request, path, contentType string) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if err != nil {
		wb.log.Error("open download failed", zap.String("path", path), zap.Error(err))
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filepath.Base(path)+`"`)
	http.ServeContent(w, r, filepath.Base(path), st.ModTime(), f)
}

func (wb *Web) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Status{
		Counters:    wb.st.Counters(),
		Subscribers: wb.st.logHub.Len(),
		Consoles:    wb.st.rawHub.Len(),
		TailCursor:  wb.st.notifier.Cursor(),
		TrackFixes:  len(wb.st.track.Fixes()),
		Sinks:       wb.st.sinks.Stats(),
	}, wb.log)
}

func writeJSON(w http.ResponseWriter, v any, log *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("json encode error", zap.Error(err))
	}
}
