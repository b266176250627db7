// Package widget runs one recent-images dashboard: it owns the image rows,
// the alarm state and the settings, and publishes a rendered View after every
// change.
package widget

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lsst-camera-dev/recent-images/internal/alarm"
	"github.com/lsst-camera-dev/recent-images/internal/columns"
	"github.com/lsst-camera-dev/recent-images/internal/config"
	"github.com/lsst-camera-dev/recent-images/internal/history"
	"github.com/lsst-camera-dev/recent-images/internal/metrics"
	"github.com/lsst-camera-dev/recent-images/internal/models"
	"github.com/lsst-camera-dev/recent-images/internal/notify"
	"github.com/lsst-camera-dev/recent-images/internal/sound"
	"go.uber.org/zap"
)

// TickInterval is the countdown period.
const TickInterval = time.Second

const (
	historyTimeout = 5 * time.Second
	// historyQueue bounds the writes waiting for the history writer.
	historyQueue = 64
)

var (
	// ErrStopped is returned by commands once Run has returned.
	ErrStopped = errors.New("widget stopped")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("widget already running")
)

// Fetcher loads the most recent images.
type Fetcher interface {
	Fetch(ctx context.Context, rows int, filter string) ([]models.ImageRecord, error)
}

// Recorder keeps the arrival and alarm history.
type Recorder interface {
	RecordArrivals(ctx context.Context, records []models.ImageRecord) error
	RecordAlarm(ctx context.Context, kind string, alarmSeconds int) error
}

// Settings are the initial widget settings.
type Settings struct {
	Rows          int
	Filter        string
	AlarmSeconds  int
	PlayClick     bool
	PlayAlarm     bool
	HiddenColumns []string
	DefaultRaft   string
}

// Options configures a Widget. Fetcher, Source, Click, Alarm and URLs.View are
// required.
type Options struct {
	Settings Settings
	URLs     config.URLs

	Fetcher Fetcher
	Source  notify.Source
	Click   sound.Player
	Alarm   sound.Player

	// History is optional.
	History Recorder
	// Metrics may be nil.
	Metrics *metrics.Metrics
	Logger  *zap.Logger

	// RetryDelay overrides the push resubscribe delay.
	RetryDelay time.Duration
	// Ticks replaces the one-second ticker.
	Ticks <-chan time.Time
	// Observer is called from the event loop with every published view. It
	// must not block.
	Observer func(View)
}

type command struct {
	event alarm.Event
	reply chan View
}

// historyWrite is one pending history write.
type historyWrite struct {
	what  string
	write func(ctx context.Context) error
}

type refreshResult struct {
	records []models.ImageRecord
	err     error
	took    time.Duration
}

// Widget is one dashboard instance.
type Widget struct {
	opts    Options
	logger  *zap.Logger
	columns []columns.Column

	commands chan command
	pushes   chan struct{}
	results  chan refreshResult
	writes   chan historyWrite
	done     chan struct{}
	started  atomic.Bool
	wg       sync.WaitGroup

	// Owned by the event loop.
	state       alarm.State
	records     []models.ImageRecord
	lastRefresh time.Time
	seq         uint64

	mu   sync.RWMutex
	view View
}

// New validates opts and creates a widget. Nothing runs until Run.
func New(opts Options) (*Widget, error) {
	switch {
	case opts.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case opts.Source == nil:
		return nil, errors.New("push source is required")
	case opts.Click == nil || opts.Alarm == nil:
		return nil, errors.New("click and alarm players are required")
	case opts.URLs.View == nil:
		return nil, errors.New("view URL is required")
	case opts.Settings.Rows < 1:
		return nil, errors.New("rows must be at least 1")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	s := opts.Settings
	w := &Widget{
		opts:     opts,
		logger:   opts.Logger.Named("widget"),
		columns:  columns.Project(columns.Schema(opts.URLs.View, s.DefaultRaft), s.HiddenColumns),
		commands: make(chan command),
		pushes:   make(chan struct{}),
		results:  make(chan refreshResult),
		writes:   make(chan historyWrite, historyQueue),
		done:     make(chan struct{}),
		state:    alarm.New(s.AlarmSeconds, s.Rows, s.Filter, s.PlayClick, s.PlayAlarm),
	}
	w.view = w.render()
	return w, nil
}

// Run starts the event loop: an initial refresh, one push subscription and
// the countdown ticker. It returns once ctx is cancelled and every goroutine
// it started has exited.
func (w *Widget) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(w.done)

	ctx, cancel := context.WithCancel(ctx)
	defer w.wg.Wait()
	defer cancel()

	ticks := w.opts.Ticks
	if ticks == nil {
		ticker := time.NewTicker(TickInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	listener := notify.NewListener(w.opts.Source, w.opts.Logger, w.opts.Metrics)
	if w.opts.RetryDelay > 0 {
		listener.WithRetryDelay(w.opts.RetryDelay)
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		listener.Run(ctx, func() {
			select {
			case w.pushes <- struct{}{}:
			case <-ctx.Done():
			}
		})
	}()

	if w.opts.History != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.writeHistory(ctx)
		}()
	}

	w.logger.Info("widget started",
		zap.String("rest_url", urlString(w.opts.URLs.Rest)),
		zap.String("event_source_url", urlString(w.opts.URLs.EventSource)),
		zap.Int("rows", w.state.Rows),
		zap.Int("alarm_seconds", w.state.AlarmSeconds))

	w.opts.Metrics.SetRows(w.state.Rows)
	w.opts.Metrics.SetCountdown(w.state.Countdown)
	w.startRefresh(ctx)
	w.publish()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("widget stopped")
			return nil
		case <-ticks:
			w.apply(ctx, alarm.Tick{})
		case <-w.pushes:
			w.logger.Debug("new image notification")
			w.apply(ctx, alarm.NewImage{})
		case cmd := <-w.commands:
			w.apply(ctx, cmd.event)
			cmd.reply <- w.View()
		case res := <-w.results:
			w.finishRefresh(res)
		}
	}
}

// View returns the last published view.
func (w *Widget) View() View {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.view
}

// SetPlayClick toggles the new-image click.
func (w *Widget) SetPlayClick(ctx context.Context, enabled bool) (View, error) {
	return w.post(ctx, alarm.SetPlayClick{Enabled: enabled})
}

// SetPlayAlarm toggles the alarm sound.
func (w *Widget) SetPlayAlarm(ctx context.Context, enabled bool) (View, error) {
	return w.post(ctx, alarm.SetPlayAlarm{Enabled: enabled})
}

// SetAlarmSeconds edits the alarm threshold. A non-zero value restarts the
// countdown and 0 disables the alarm.
func (w *Widget) SetAlarmSeconds(ctx context.Context, seconds int) (View, error) {
	return w.post(ctx, alarm.SetAlarmSeconds{Seconds: seconds})
}

// Silence stops the alarm sound. The alarm stays raised.
func (w *Widget) Silence(ctx context.Context) (View, error) {
	return w.post(ctx, alarm.Silence{})
}

// SetRows changes the page size and refreshes.
func (w *Widget) SetRows(ctx context.Context, rows int) (View, error) {
	return w.post(ctx, alarm.SetRows{Rows: rows})
}

// SetFilter changes the filter expression and refreshes.
func (w *Widget) SetFilter(ctx context.Context, filter string) (View, error) {
	return w.post(ctx, alarm.SetFilter{Filter: filter})
}

// post hands ev to the event loop and waits for the resulting view.
func (w *Widget) post(ctx context.Context, ev alarm.Event) (View, error) {
	cmd := command{event: ev, reply: make(chan View, 1)}
	select {
	case w.commands <- cmd:
	case <-w.done:
		return View{}, ErrStopped
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-cmd.reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (w *Widget) apply(ctx context.Context, ev alarm.Event) {
	prev := w.state
	next, intents := alarm.Apply(prev, ev)
	if next == prev && len(intents) == 0 {
		return
	}
	w.state = next

	for _, intent := range intents {
		switch intent {
		case alarm.Refresh:
			w.startRefresh(ctx)
		case alarm.PlayClick:
			w.opts.Click.Play()
		case alarm.PlayAlarm:
			w.opts.Alarm.Play()
		case alarm.StopAlarm:
			w.opts.Alarm.Stop()
		}
	}

	switch {
	case !prev.IsAlarm() && next.IsAlarm():
		w.logger.Warn("no new images, alarm raised", zap.Int("alarm_seconds", next.AlarmSeconds))
		w.opts.Metrics.AlarmRaised()
		w.recordAlarm(history.KindRaised, next.AlarmSeconds)
	case prev.IsAlarm() && !next.IsAlarm():
		w.logger.Info("alarm cleared")
		w.recordAlarm(history.KindCleared, next.AlarmSeconds)
	}
	if _, ok := ev.(alarm.Silence); ok && next.IsAlarm() {
		w.recordAlarm(history.KindSilenced, next.AlarmSeconds)
	}

	w.opts.Metrics.SetCountdown(next.Countdown)
	w.opts.Metrics.SetRows(next.Rows)
	w.publish()
}

// startRefresh fetches in a helper goroutine. Overlapping refreshes are not
// cancelled; whichever completes last wins.
func (w *Widget) startRefresh(ctx context.Context) {
	rows, filter := w.state.Rows, w.state.Filter
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		start := time.Now()
		records, err := w.opts.Fetcher.Fetch(ctx, rows, filter)
		res := refreshResult{records: records, err: err, took: time.Since(start)}
		select {
		case w.results <- res:
		case <-ctx.Done():
		}
	}()
}

func (w *Widget) finishRefresh(res refreshResult) {
	w.opts.Metrics.ObserveRefresh(res.err, res.took)
	if res.err != nil {
		w.logger.Warn("refresh failed, keeping previous rows", zap.Error(res.err))
		return
	}
	w.records = res.records
	w.lastRefresh = time.Now().UTC()
	w.logger.Debug("refreshed", zap.Int("images", len(res.records)), zap.Duration("took", res.took))

	if w.opts.History != nil {
		records := res.records
		w.queueHistory("arrivals", func(ctx context.Context) error {
			return w.opts.History.RecordArrivals(ctx, records)
		})
	}
	w.publish()
}

func (w *Widget) recordAlarm(kind string, alarmSeconds int) {
	if w.opts.History == nil {
		return
	}
	w.queueHistory("alarm "+kind, func(ctx context.Context) error {
		return w.opts.History.RecordAlarm(ctx, kind, alarmSeconds)
	})
}

// queueHistory hands a write to the history writer without blocking the
// event loop. Writes are dropped while the queue is full.
func (w *Widget) queueHistory(what string, write func(ctx context.Context) error) {
	select {
	case w.writes <- historyWrite{what: what, write: write}:
	default:
		w.logger.Warn("history queue full, dropping write", zap.String("write", what))
	}
}

// writeHistory applies queued writes in order until ctx is cancelled.
func (w *Widget) writeHistory(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case hw := <-w.writes:
			hctx, cancel := context.WithTimeout(ctx, historyTimeout)
			if err := hw.write(hctx); err != nil {
				w.logger.Warn("history write failed", zap.String("write", hw.what), zap.Error(err))
			}
			cancel()
		}
	}
}

func (w *Widget) publish() {
	w.seq++
	v := w.render()
	w.mu.Lock()
	w.view = v
	w.mu.Unlock()
	if w.opts.Observer != nil {
		w.opts.Observer(v)
	}
}

func (w *Widget) render() View {
	header, cells := columns.Render(w.columns, w.records)
	s := w.state
	v := View{
		Seq:            w.seq,
		Columns:        header,
		Rows:           cells,
		RowLimit:       s.Rows,
		Filter:         s.Filter,
		PlayClick:      s.PlayClick,
		PlayAlarm:      s.PlayAlarm,
		AlarmSeconds:   s.AlarmSeconds,
		Countdown:      s.Countdown,
		IsAlarm:        s.IsAlarm(),
		Status:         StatusLine(s),
		ShowSilence:    s.IsAlarm() && s.PlayAlarm,
		RestURL:        urlString(w.opts.URLs.Rest),
		EventSourceURL: urlString(w.opts.URLs.EventSource),
		ViewURL:        urlString(w.opts.URLs.View),
	}
	if !w.lastRefresh.IsZero() {
		t := w.lastRefresh
		v.LastRefresh = &t
	}
	return v
}

func urlString(u *url.URL) string {
	if u == nil {
		return ""
	}
	return u.String()
}
