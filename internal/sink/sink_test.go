// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sink

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/ground_station/internal/frame"
	"github.com/relabs-tech/ground_station/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu    sync.Mutex
	rows  []frame.Row
	block chan struct{}
	fail  error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Handle(ev Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.rows = append(r.rows, ev.Row)
	r.mu.Unlock()
	return r.fail
}

func (r *recorder) got() []frame.Row {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]frame.Row(nil), r.rows...)
}

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(8, zap.NewNop(), rec)

	d.Dispatch(Event{Row: frame.Row{"1"}})
	d.Dispatch(Event{Row: frame.Row{"2"}})
	d.Close()

	assert.Equal(t, []frame.Row{{"1"}, {"2"}}, rec.got())
	assert.Equal(t, Stats{Handled: 2}, d.Stats()["recorder"])

	// after Close, dispatch is a no-op
	d.Dispatch(Event{Row: frame.Row{"3"}})
	d.Close()
}

func TestDispatcher_FullQueueDropsWithoutBlocking(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	d := NewDispatcher(1, zap.NewNop(), rec)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Dispatch(Event{Row: frame.Row{"x"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a stalled listener")
	}

	close(rec.block)
	d.Close()

	st := d.Stats()["recorder"]
	assert.Equal(t, uint64(5), st.Handled+st.Dropped)
	assert.GreaterOrEqual(t, st.Dropped, uint64(3))
}

func TestDispatcher_ContainsFailures(t *testing.T) {
	failing := &recorder{fail: errors.New("disk full")}
	panicking := &panicker{}
	healthy := &recorder{}
	d := NewDispatcher(4, zap.NewNop(), failing, panicking, healthy)

	d.Dispatch(Event{Row: frame.Row{"1"}})
	d.Close()

	assert.Len(t, healthy.got(), 1)
	assert.Equal(t, Stats{Failed: 1}, d.Stats()["panicker"])
}

type panicker struct{}

func (panicker) Name() string       { return "panicker" }
func (panicker) Handle(Event) error { panic("boom") }

func TestStamp(t *testing.T) {
	at := time.Date(2026, 1, 2, 15, 4, 5, 123_000_000, time.UTC)
	assert.Equal(t, "20260102T150405123Z", Stamp(at))

	parsed, err := ParseStamp(Stamp(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(parsed))

	_, err = ParseStamp("abc")
	assert.Error(t, err)
}

func newTestBackup(t *testing.T) (*Backup, string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "sheet.csv")
	require.NoError(t, os.WriteFile(src, []byte("Time\n1\n"), 0o644))

	b, err := NewBackup(filepath.Join(root, "backup"), []string{src, filepath.Join(root, "missing.kml")},
		time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)
	return b, root
}

func TestBackup_ThrottledSnapshots(t *testing.T) {
	b, _ := newTestBackup(t)
	now := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.NoError(t, b.Handle(Event{}))
	now = now.Add(30 * time.Second)
	require.NoError(t, b.Handle(Event{}))

	list, err := b.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "20260102T150405000Z_sheet.csv", list[0].Filename)
	assert.Equal(t, int64(len("Time\n1\n")), list[0].Size)

	now = now.Add(time.Minute)
	require.NoError(t, b.Handle(Event{}))
	list, err = b.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Timestamp.After(list[1].Timestamp))
}

func TestBackup_PathRejectsTraversal(t *testing.T) {
	b, _ := newTestBackup(t)

	for _, name := range []string{"", ".", "..", "../sheet.csv", "a/b", `a\b`} {
		_, err := b.Path(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}

	p, err := b.Path("20260102T150405000Z_sheet.csv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(b.dir, "20260102T150405000Z_sheet.csv"), p)
}

func TestBackup_Delete(t *testing.T) {
	b, _ := newTestBackup(t)
	written, err := b.Snapshot(time.Now())
	require.NoError(t, err)
	require.Len(t, written, 1)

	require.NoError(t, b.Delete(written[0]))
	list, err := b.List()
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.Error(t, b.Delete(written[0]))
	assert.ErrorIs(t, b.Delete("../x"), ErrInvalidName)
}

func TestSQLMirror_RotatesAndInserts(t *testing.T) {
	s, err := schema.New("Time", "Temperature")
	require.NoError(t, err)
	dsn := filepath.Join(t.TempDir(), "mirror.db")
	ctx := context.Background()

	first, err := OpenSQLMirror(ctx, dsn, "sensor_data", s, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.Handle(Event{Row: frame.Row{"1", "20"}}))
	require.NoError(t, first.Close())

	second, err := OpenSQLMirror(ctx, dsn, "sensor_data", s, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Handle(Event{Row: frame.Row{"2", "N/A"}}))

	var ts, temp string
	require.NoError(t, second.DB().QueryRow(
		`SELECT "Time", "Temperature" FROM sensor_data`).Scan(&ts, &temp))
	assert.Equal(t, "2", ts)
	assert.Equal(t, "N/A", temp)

	var archived int
	require.NoError(t, second.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'sensor_data_%'`).Scan(&archived))
	assert.Equal(t, 1, archived)

	assert.Error(t, second.Handle(Event{Row: frame.Row{"too", "many", "values"}}))
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	tk := &fakeToken{err: err, done: make(chan struct{})}
	close(tk.done)
	return tk
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topic    string
	retained bool
	payload  []byte
	err      error
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.retained = retained
	p.payload = payload.([]byte)
	return newFakeToken(p.err)
}

func TestMQTTMirror_PublishesOrderedObject(t *testing.T) {
	s, err := schema.New("Time", "Temperature", "Altitude")
	require.NoError(t, err)
	pub := &fakePublisher{}
	m := NewMQTTMirror(pub, "groundstation/frame", s, zap.NewNop())

	require.NoError(t, m.Handle(Event{Row: frame.Row{"1", "20", "N/A"}}))
	assert.Equal(t, "groundstation/frame", pub.topic)
	assert.True(t, pub.retained)
	assert.Equal(t, `{"Time":"1","Temperature":"20","Altitude":"N/A"}`, string(pub.payload))

	// the parser reads it back in schema order
	u, err := frame.NewParser(frame.FormatDelimited, "=", true).Parse(string(pub.payload))
	require.NoError(t, err)
	assert.Equal(t, []frame.Pair{
		{Key: "Time", Value: "1"},
		{Key: "Temperature", Value: "20"},
		{Key: "Altitude", Value: "N/A"},
	}, u.Pairs())

	pub.err = errors.New("not connected")
	assert.Error(t, m.Handle(Event{Row: frame.Row{"2", "21", "5"}}))
}

func TestEncodeFrame_WidthMismatch(t *testing.T) {
	_, err := EncodeFrame([]string{"a", "b"}, frame.Row{"1"})
	assert.Error(t, err)
}
