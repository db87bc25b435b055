// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/ground_station/internal/broadcast"
	"github.com/relabs-tech/ground_station/internal/config"
	"github.com/relabs-tech/ground_station/internal/csvlog"
	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/schema"
	"github.com/relabs-tech/ground_station/internal/sink"
	"github.com/relabs-tech/ground_station/internal/source"
	"github.com/relabs-tech/ground_station/internal/tail"
	"github.com/relabs-tech/ground_station/internal/track"
)

const shutdownTimeout = 5 * time.Second

// Counters is a point-in-time view of the ingestion pipeline.
type Counters struct {
	Lines       uint64 `json:"lines"`
	ParseErrors uint64 `json:"parse_errors"`
	Commits     uint64 `json:"commits"`
	LogErrors   uint64 `json:"log_errors"`
}

// Station wires the ingestion pipeline to the log, the track, the side-effect
// listeners and the subscriber hubs.
type Station struct {
	cfg      *config.Config
	schema   *schema.Schema
	parser   *frame.Parser
	acc      *frame.Accumulator
	writer   *csvlog.Writer
	track    *track.Builder
	backup   *sink.Backup
	sinks    *sink.Dispatcher
	logHub   *broadcast.Hub
	rawHub   *broadcast.Hub
	notifier *tail.Notifier
	closers  []func() error
	log      *zap.Logger

	lines       atomic.Uint64
	parseErrors atomic.Uint64
	commits     atomic.Uint64
	logErrors   atomic.Uint64
}

// NewStation loads the schema, prepares the log and the track, and starts the
// side-effect listeners. Optional mirrors that cannot be reached are logged
// and left out.
func NewStation(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Station, error) {
	s, err := schema.Load(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}
	logger.Info("schema loaded", zap.Strings("fields", s.Names()))

	acc, err := frame.NewAccumulator(s, cfg.BoundaryField)
	if err != nil {
		return nil, err
	}

	st := &Station{
		cfg:    cfg,
		schema: s,
		parser: frame.NewParser(frame.Format(cfg.LineFormat), cfg.LineSeparator, cfg.LineTrim),
		acc:    acc,
		writer: csvlog.NewWriter(cfg.LogFile, s, logger),
		logHub: broadcast.NewHub(cfg.SubscriberBuffer),
		rawHub: broadcast.NewHub(cfg.SubscriberBuffer),
		log:    logger.Named("station"),
	}

	if err := st.writer.EnsureInitialized(); err != nil {
		return nil, err
	}

	st.track, err = track.NewBuilder(cfg.TrackFile, s, track.Columns{
		Latitude:  cfg.TrackLatitudeField,
		Longitude: cfg.TrackLongitudeField,
		Altitude:  cfg.TrackAltitudeField,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := st.track.Load(cfg.LogFile); err != nil {
		return nil, err
	}
	if err := st.track.Init(); err != nil {
		return nil, err
	}

	st.notifier, err = tail.NewNotifier(cfg.LogFile, st.logHub, cfg.TailPollInterval, logger)
	if err != nil {
		return nil, err
	}
	st.writer.OnReset(func() {
		if err := st.notifier.Resync(); err != nil {
			st.log.Warn("tail resync after reset failed", zap.Error(err))
		}
	})

	st.backup, err = sink.NewBackup(cfg.BackupDir, cfg.BackupSources(), cfg.BackupInterval, logger)
	if err != nil {
		return nil, err
	}
	listeners := []sink.Listener{st.backup}

	if cfg.SQLDSN != "" {
		m, err := sink.OpenSQLMirror(ctx, cfg.SQLDSN, cfg.SQLTable, s, logger)
		if err != nil {
			st.log.Warn("relational mirror disabled", zap.Error(err))
		} else {
			listeners = append(listeners, m)
			st.closers = append(st.closers, m.Close)
		}
	}

	if cfg.MQTTBroker != "" {
		client, err := sink.ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientID)
		if err != nil {
			st.log.Warn("MQTT mirror disabled", zap.Error(err))
		} else {
			st.log.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
			listeners = append(listeners, sink.NewMQTTMirror(client, cfg.TopicFrame, s, logger))
			st.closers = append(st.closers, func() error {
				client.Disconnect(250)
				return nil
			})
		}
	}

	st.sinks = sink.NewDispatcher(sink.DefaultQueue, logger, listeners...)
	return st, nil
}

// HandleLine runs one raw line through parse, accumulate and commit. It must
// be called from a single goroutine.
func (st *Station) HandleLine(line string) {
	st.lines.Add(1)
	st.rawHub.Publish([]byte(line))

	u, err := st.parser.Parse(line)
	if err != nil {
		st.parseErrors.Add(1)
		st.log.Warn("dropping unparseable line", zap.String("line", line), zap.Error(err))
		return
	}

	if row, ok := st.acc.Apply(u); ok {
		st.commit(row)
	}
}

// Flush commits the pending frame, if any.
func (st *Station) Flush() {
	if row, ok := st.acc.Flush(); ok {
		st.log.Info("flushing pending frame")
		st.commit(row)
	}
}

func (st *Station) commit(row frame.Row) {
	st.commits.Add(1)

	if err := st.writer.Append(row); err != nil {
		st.logErrors.Add(1)
		st.log.Error("log append failed", zap.Error(err))
	}
	if _, err := st.track.Commit(row); err != nil {
		st.log.Error("track update failed", zap.Error(err))
	}
	st.sinks.Dispatch(sink.Event{Row: row, At: time.Now()})
}

// Counters reports the pipeline counters.
func (st *Station) Counters() Counters {
	return Counters{
		Lines:       st.lines.Load(),
		ParseErrors: st.parseErrors.Load(),
		Commits:     st.commits.Load(),
		LogErrors:   st.logErrors.Load(),
	}
}

// Source picks the replay file when configured, the serial port otherwise.
func (st *Station) Source() source.Source {
	if st.cfg.ReplayFile != "" {
		return source.NewReplay(st.cfg.ReplayFile, 0, st.log)
	}
	return source.NewSerial(st.cfg.SerialPort, st.cfg.SerialBaudRate, st.cfg.SerialReconnectInterval, st.log)
}

// Ingest feeds src into the pipeline until it stops. A failing source is
// logged and does not take the rest of the station down.
func (st *Station) Ingest(ctx context.Context, src source.Source) {
	if err := src.Run(ctx, st.HandleLine); err != nil {
		st.log.Error("line source stopped", zap.Error(err))
	}
	if st.cfg.FlushOnShutdown {
		st.Flush()
	}
	st.log.Info("ingestion stopped", zap.Any("counters", st.Counters()))
}

// Close stops the listeners and releases the mirrors.
func (st *Station) Close() {
	st.sinks.Close()
	for _, c := range st.closers {
		if err := c(); err != nil {
			st.log.Warn("close failed", zap.Error(err))
		}
	}
	st.logHub.Close()
	st.rawHub.Close()
}

// RunStation runs ingestion, the log tail and the web server until ctx is
// cancelled.
func RunStation(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	st, err := NewStation(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("start station: %w", err)
	}
	defer st.Close()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.WebServerPort),
		Handler:           NewWeb(st, logger).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st.Ingest(ctx, st.Source())
		return nil
	})

	g.Go(func() error {
		return st.notifier.Run(ctx)
	})

	g.Go(func() error {
		logger.Info("web server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("web server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("station stopped")
	return err
}
