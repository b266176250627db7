package widget

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lsst-camera-dev/recent-images/internal/alarm"
	"github.com/lsst-camera-dev/recent-images/internal/columns"
	"github.com/lsst-camera-dev/recent-images/internal/config"
	"github.com/lsst-camera-dev/recent-images/internal/history"
	"github.com/lsst-camera-dev/recent-images/internal/models"
	"github.com/lsst-camera-dev/recent-images/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitFor = 2 * time.Second

// fetchCall is one blocked Fetch; the test answers it through reply.
type fetchCall struct {
	rows   int
	filter string
	reply  chan fetchReply
}

type fetchReply struct {
	records []models.ImageRecord
	err     error
}

type gatedFetcher struct {
	calls chan *fetchCall
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{calls: make(chan *fetchCall)}
}

func (f *gatedFetcher) Fetch(ctx context.Context, rows int, filter string) ([]models.ImageRecord, error) {
	call := &fetchCall{rows: rows, filter: filter, reply: make(chan fetchReply, 1)}
	select {
	case f.calls <- call:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-call.reply:
		return r.records, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *gatedFetcher) next(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case call := <-f.calls:
		return call
	case <-time.After(waitFor):
		t.Fatal("expected a fetch")
		return nil
	}
}

type chanSource struct {
	events chan string
}

func (s *chanSource) Subscribe(ctx context.Context, handler func(notify.Event)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case name := <-s.events:
			handler(notify.Event{Name: name})
		}
	}
}

type countingPlayer struct {
	mu    sync.Mutex
	plays int
	stops int
}

func (p *countingPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
}

func (p *countingPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
}

func (p *countingPlayer) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plays, p.stops
}

type memoryRecorder struct {
	mu       sync.Mutex
	arrivals []string
	alarms   []string
}

func (r *memoryRecorder) RecordArrivals(_ context.Context, records []models.ImageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.arrivals = append(r.arrivals, rec.ObsID)
	}
	return nil
}

func (r *memoryRecorder) RecordAlarm(_ context.Context, kind string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alarms = append(r.alarms, kind)
	return nil
}

func (r *memoryRecorder) alarmKinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alarms...)
}

type harness struct {
	w       *Widget
	fetcher *gatedFetcher
	source  *chanSource
	ticks   chan time.Time
	click   *countingPlayer
	alarm   *countingPlayer
	history *memoryRecorder
	cancel  context.CancelFunc
	done    chan error
	once    sync.Once
}

func testURLs(t *testing.T) config.URLs {
	t.Helper()
	cfg := config.DefaultConfig()
	urls, err := cfg.URLs()
	require.NoError(t, err)
	return urls
}

func startWidget(t *testing.T, settings Settings) *harness {
	t.Helper()
	return startWidgetWithHistory(t, settings, nil)
}

// startWidgetWithHistory runs a widget whose history goes to recorder, or to
// the harness's memoryRecorder when recorder is nil.
func startWidgetWithHistory(t *testing.T, settings Settings, recorder Recorder) *harness {
	t.Helper()
	h := &harness{
		fetcher: newGatedFetcher(),
		source:  &chanSource{events: make(chan string)},
		ticks:   make(chan time.Time),
		click:   &countingPlayer{},
		alarm:   &countingPlayer{},
		history: &memoryRecorder{},
		done:    make(chan error, 1),
	}
	if recorder == nil {
		recorder = h.history
	}
	w, err := New(Options{
		Settings: settings,
		URLs:     testURLs(t),
		Fetcher:  h.fetcher,
		Source:   h.source,
		Click:    h.click,
		Alarm:    h.alarm,
		History:  recorder,
		Ticks:    h.ticks,
	})
	require.NoError(t, err)
	h.w = w

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- w.Run(ctx) }()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	before := h.w.View().Seq
	countdown := h.w.View().Countdown
	select {
	case h.ticks <- time.Now():
	case <-time.After(waitFor):
		t.Fatal("tick not consumed")
	}
	if countdown > 0 {
		require.Eventually(t, func() bool { return h.w.View().Seq > before }, waitFor, time.Millisecond)
	}
}

func (h *harness) push(t *testing.T, name string) {
	t.Helper()
	select {
	case h.source.events <- name:
	case <-time.After(waitFor):
		t.Fatal("push event not consumed")
	}
}

func records(ids ...string) []models.ImageRecord {
	out := make([]models.ImageRecord, len(ids))
	for i, id := range ids {
		out[i] = models.ImageRecord{ObsID: id, RaftMask: 3}
	}
	return out
}

func imageIDs(v View) []string {
	ids := make([]string, len(v.Rows))
	for i, row := range v.Rows {
		ids[i] = row[0].Value.(string)
	}
	return ids
}

func defaultSettings() Settings {
	return Settings{Rows: 20, AlarmSeconds: 3, PlayClick: true, PlayAlarm: true, DefaultRaft: "R22"}
}

func TestNewValidatesOptions(t *testing.T) {
	urls := testURLs(t)
	_, err := New(Options{Settings: Settings{Rows: 20}, URLs: urls})
	assert.Error(t, err)

	_, err = New(Options{
		Settings: Settings{Rows: 0},
		URLs:     urls,
		Fetcher:  newGatedFetcher(),
		Source:   &chanSource{},
		Click:    &countingPlayer{},
		Alarm:    &countingPlayer{},
	})
	assert.Error(t, err)

	_, err = New(Options{
		Settings: Settings{Rows: 20},
		URLs:     config.URLs{},
		Fetcher:  newGatedFetcher(),
		Source:   &chanSource{},
		Click:    &countingPlayer{},
		Alarm:    &countingPlayer{},
	})
	assert.Error(t, err)
}

func TestInitialRefreshRendersRows(t *testing.T) {
	h := startWidget(t, defaultSettings())

	call := h.fetcher.next(t)
	assert.Equal(t, 20, call.rows)
	assert.Equal(t, "", call.filter)
	call.reply <- fetchReply{records: records("X1", "X0")}

	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 2 }, waitFor, time.Millisecond)
	v := h.w.View()
	assert.Equal(t, columns.Names, v.Columns)
	assert.Equal(t, []string{"X1", "X0"}, imageIDs(v))
	assert.Equal(t, 2, v.Rows[0][len(v.Columns)-1].Value)
	require.NotNil(t, v.LastRefresh)
	assert.Equal(t, alarm.NotRunning, v.Countdown)
	assert.Equal(t, "", v.Status)
	assert.Equal(t, "http://ccs.lsst.org/FITSInfo/rest/", v.RestURL)
}

func TestHiddenColumnsAreProjected(t *testing.T) {
	s := defaultSettings()
	s.HiddenColumns = []string{columns.Run, columns.Tseqnum, "Bogus"}
	h := startWidget(t, s)
	h.fetcher.next(t).reply <- fetchReply{records: records("X1")}

	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 1 }, waitFor, time.Millisecond)
	v := h.w.View()
	assert.Equal(t, []string{
		columns.Image, columns.ImgType, columns.TestType, columns.DarkTime,
		columns.ExpTime, columns.Date, columns.Rafts,
	}, v.Columns)
	assert.Len(t, v.Rows[0], len(v.Columns))
}

func TestFailedRefreshKeepsRows(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}
	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 1 }, waitFor, time.Millisecond)
	seq := h.w.View().Seq

	_, err := h.w.SetFilter(context.Background(), "imgType == 'BIAS'")
	require.NoError(t, err)
	call := h.fetcher.next(t)
	assert.Equal(t, "imgType == 'BIAS'", call.filter)
	call.reply <- fetchReply{err: errors.New("connection refused")}

	// A later successful refresh proves the failure was consumed.
	_, err = h.w.SetRows(context.Background(), 5)
	require.NoError(t, err)
	call = h.fetcher.next(t)
	assert.Equal(t, 5, call.rows)

	v := h.w.View()
	assert.Greater(t, v.Seq, seq)
	assert.Equal(t, []string{"A"}, imageIDs(v))
	call.reply <- fetchReply{records: records("B")}
	require.Eventually(t, func() bool {
		ids := imageIDs(h.w.View())
		return len(ids) == 1 && ids[0] == "B"
	}, waitFor, time.Millisecond)
}

func TestNewImageRefreshesClicksAndResetsCountdown(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	h.push(t, notify.EventNewImage)
	call := h.fetcher.next(t)
	require.Eventually(t, func() bool { return h.w.View().Countdown == 3 }, waitFor, time.Millisecond)
	plays, _ := h.click.counts()
	assert.Equal(t, 1, plays, "click plays before the refresh completes")
	assert.Equal(t, "(Countdown 3)", h.w.View().Status)

	call.reply <- fetchReply{records: records("B", "A")}
	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 2 }, waitFor, time.Millisecond)

	h.push(t, "heartbeat")
	h.tick(t)
	assert.Equal(t, 2, h.w.View().Countdown)
}

func TestClickDisabled(t *testing.T) {
	s := defaultSettings()
	s.PlayClick = false
	h := startWidget(t, s)
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	h.push(t, notify.EventNewImage)
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}
	require.Eventually(t, func() bool { return h.w.View().Countdown == 3 }, waitFor, time.Millisecond)
	plays, _ := h.click.counts()
	assert.Equal(t, 0, plays)
}

func TestAlarmRaisedSilencedAndCleared(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	h.push(t, notify.EventNewImage)
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}
	require.Eventually(t, func() bool { return h.w.View().Countdown == 3 }, waitFor, time.Millisecond)

	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	v := h.w.View()
	assert.Equal(t, 0, v.Countdown)
	assert.True(t, v.IsAlarm)
	assert.Equal(t, StatusAlarm, v.Status)
	assert.True(t, v.ShowSilence)
	plays, _ := h.alarm.counts()
	assert.Equal(t, 1, plays)

	v, err := h.w.Silence(context.Background())
	require.NoError(t, err)
	assert.True(t, v.IsAlarm, "silence keeps the alarm raised")
	assert.Equal(t, StatusAlarm, v.Status)
	_, stops := h.alarm.counts()
	assert.Equal(t, 1, stops)

	h.push(t, notify.EventNewImage)
	h.fetcher.next(t).reply <- fetchReply{records: records("B")}
	require.Eventually(t, func() bool { return !h.w.View().IsAlarm }, waitFor, time.Millisecond)
	assert.Equal(t, 3, h.w.View().Countdown)

	want := []string{history.KindRaised, history.KindSilenced, history.KindCleared}
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, h.history.alarmKinds()) }, waitFor, time.Millisecond)
}

func TestAlarmWithoutSound(t *testing.T) {
	s := defaultSettings()
	s.PlayAlarm = false
	h := startWidget(t, s)
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	v, err := h.w.SetAlarmSeconds(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Countdown)
	h.tick(t)

	v = h.w.View()
	assert.True(t, v.IsAlarm)
	assert.False(t, v.ShowSilence)
	plays, _ := h.alarm.counts()
	assert.Equal(t, 0, plays)
}

func TestSetAlarmSecondsRestartsCountdown(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	v, err := h.w.SetAlarmSeconds(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 10, v.AlarmSeconds)
	assert.Equal(t, 10, v.Countdown)

	v, err = h.w.SetAlarmSeconds(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, v.AlarmSeconds)
	assert.Equal(t, 10, v.Countdown, "zero disables future resets but leaves the running countdown")
}

func TestTogglesDoNotRefresh(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	v, err := h.w.SetPlayClick(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, v.PlayClick)
	v, err = h.w.SetPlayAlarm(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, v.PlayAlarm)

	select {
	case <-h.fetcher.calls:
		t.Fatal("toggles must not refresh")
	case <-time.After(20 * time.Millisecond):
	}
}

// Overlapping refreshes are not cancelled or sequenced: an earlier, slower
// refresh overwrites a later, faster one.
func TestOverlappingRefreshesLastCompletionWins(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("initial")}
	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 1 }, waitFor, time.Millisecond)

	_, err := h.w.SetRows(context.Background(), 5)
	require.NoError(t, err)
	slow := h.fetcher.next(t)
	_, err = h.w.SetRows(context.Background(), 6)
	require.NoError(t, err)
	fast := h.fetcher.next(t)
	assert.Equal(t, 5, slow.rows)
	assert.Equal(t, 6, fast.rows)

	fast.reply <- fetchReply{records: records("fast1", "fast2")}
	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 2 }, waitFor, time.Millisecond)

	slow.reply <- fetchReply{records: records("slow")}
	require.Eventually(t, func() bool {
		ids := imageIDs(h.w.View())
		return len(ids) == 1 && ids[0] == "slow"
	}, waitFor, time.Millisecond)
	assert.Equal(t, 6, h.w.View().RowLimit)
}

func TestObserverSeesEveryPublish(t *testing.T) {
	var mu sync.Mutex
	var seqs []uint64
	fetcher := newGatedFetcher()
	ticks := make(chan time.Time)
	w, err := New(Options{
		Settings: defaultSettings(),
		URLs:     testURLs(t),
		Fetcher:  fetcher,
		Source:   &chanSource{events: make(chan string)},
		Click:    &countingPlayer{},
		Alarm:    &countingPlayer{},
		Ticks:    ticks,
		Observer: func(v View) {
			mu.Lock()
			seqs = append(seqs, v.Seq)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	fetcher.next(t).reply <- fetchReply{records: records("A")}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seqs) == 2
	}, waitFor, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2}, seqs)
}

func TestCommandsAfterStop(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.stop()

	_, err := h.w.SetRows(context.Background(), 3)
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, h.w.Run(context.Background()), ErrAlreadyRunning)
}

func TestTeardownWithRefreshInFlight(t *testing.T) {
	h := startWidget(t, defaultSettings())
	call := h.fetcher.next(t)
	h.stop()
	// The fetch was abandoned with the widget's context; nothing is left running.
	select {
	case call.reply <- fetchReply{}:
	default:
	}
}

func TestStatusLine(t *testing.T) {
	s := alarm.New(2, 20, "", false, false)
	assert.Equal(t, "", StatusLine(s))

	s, _ = alarm.Apply(s, alarm.NewImage{})
	assert.Equal(t, "(Countdown 2)", StatusLine(s))

	s, _ = alarm.Apply(s, alarm.Tick{}, alarm.Tick{})
	assert.Equal(t, StatusAlarm, StatusLine(s))
}

func TestViewURLInImageCell(t *testing.T) {
	h := startWidget(t, defaultSettings())
	h.fetcher.next(t).reply <- fetchReply{records: records("MC_C_1")}
	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 1 }, waitFor, time.Millisecond)

	cell := h.w.View().Rows[0][0]
	u, err := url.Parse(cell.Href)
	require.NoError(t, err)
	assert.Equal(t, "MC_C_1", u.Query().Get("image"))
	assert.Equal(t, "R22", u.Query().Get("raft"))
	assert.Equal(t, columns.ViewerTarget, cell.Target)
}

// stalledRecorder blocks every write until release is closed.
type stalledRecorder struct {
	release chan struct{}
	mu      sync.Mutex
	writes  int
}

func (r *stalledRecorder) wait(ctx context.Context) error {
	select {
	case <-r.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes++
	return nil
}

func (r *stalledRecorder) RecordArrivals(ctx context.Context, _ []models.ImageRecord) error {
	return r.wait(ctx)
}

func (r *stalledRecorder) RecordAlarm(ctx context.Context, _ string, _ int) error {
	return r.wait(ctx)
}

func (r *stalledRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes
}

func TestSlowHistoryDoesNotStallCountdown(t *testing.T) {
	rec := &stalledRecorder{release: make(chan struct{})}
	h := startWidgetWithHistory(t, defaultSettings(), rec)
	h.fetcher.next(t).reply <- fetchReply{records: records("A")}

	h.push(t, notify.EventNewImage)
	h.fetcher.next(t).reply <- fetchReply{records: records("B", "A")}
	require.Eventually(t, func() bool { return len(h.w.View().Rows) == 2 }, waitFor, time.Millisecond)

	h.tick(t)
	h.tick(t)
	assert.Equal(t, 1, h.w.View().Countdown)
	assert.Equal(t, 0, rec.count())

	close(rec.release)
	assert.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, time.Millisecond)
}

func TestRunStopsWhilePushUpstreamFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	urls := testURLs(t)
	w, err := New(Options{
		Settings:   defaultSettings(),
		URLs:       urls,
		Fetcher:    newGatedFetcher(),
		Source:     notify.NewSSESource(server.URL, server.Client()),
		Click:      &countingPlayer{},
		Alarm:      &countingPlayer{},
		RetryDelay: time.Millisecond,
		Ticks:      make(chan time.Time),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}
