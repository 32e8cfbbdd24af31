package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/speechcheck/internal/analysis"
	"github.com/skypro1111/speechcheck/internal/audio"
	"github.com/skypro1111/speechcheck/internal/metrics"
)

// Recorder produces raw captures. *capture.Session implements it.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (*audio.RawCapture, error)
	OnError(func(error))
}

// Encoder converts raw captures to canonical audio. *audio.Transcoder implements it.
type Encoder interface {
	Encode(raw *audio.RawCapture) (*audio.CanonicalAudio, error)
}

// Submitter sends canonical audio for analysis. *analysis.Client implements it.
type Submitter interface {
	Submit(ctx context.Context, recording *audio.CanonicalAudio) (*analysis.Result, error)
}

// Snapshot is an immutable view of the session.
type Snapshot struct {
	ID       string
	State    State
	Previous State
	Audio    *audio.CanonicalAudio
	// Result is set only in StateAnalyzed.
	Result   *analysis.Result
	Failure  *Failure
	At       time.Time
}

// Listener receives every state change in order.
type Listener interface {
	StateChanged(Snapshot)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Snapshot)

// StateChanged calls f(s).
func (f ListenerFunc) StateChanged(s Snapshot) { f(s) }

// Machine orchestrates recording, transcoding and analysis for one client.
type Machine struct {
	recorder  Recorder
	encoder   Encoder
	submitter Submitter
	logger    *slog.Logger
	metrics   *metrics.Metrics

	// opMu serializes commands; mu guards the fields below and is never held
	// across recorder, encoder or network calls.
	opMu sync.Mutex
	mu   sync.Mutex

	state   State
	id      string
	audio   *audio.CanonicalAudio
	result  *analysis.Result
	failure *Failure

	starting     bool
	startErr     error
	analysisDone chan struct{}
	listeners    []Listener
	pending      []Snapshot
	notifying    bool
}

// NewMachine creates a machine in StateIdle and subscribes to recorder errors.
// logger and m may be nil.
func NewMachine(recorder Recorder, encoder Encoder, submitter Submitter, logger *slog.Logger, m *metrics.Metrics) *Machine {
	if logger == nil {
		logger = slog.Default()
	}

	machine := &Machine{
		recorder:  recorder,
		encoder:   encoder,
		submitter: submitter,
		logger:    logger,
		metrics:   m,
		state:     StateIdle,
	}
	recorder.OnError(machine.captureError)
	return machine
}

// Subscribe registers a listener for subsequent state changes.
func (m *Machine) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Snapshot returns the current session view.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.state)
}

// Start begins a new recording. It is a no-op while recording and rejected
// while an analysis is in flight. A successful start discards any held audio
// and result; if the device cannot be acquired the session moves to
// StateFailed and previously held audio stays available for Retry.
func (m *Machine) Start(ctx context.Context) error {
	defer m.notify()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	switch m.state {
	case StateRecording:
		m.mu.Unlock()
		return nil
	case StateAnalyzing:
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot start recording while analyzing", ErrInvalidTransition)
	}
	m.starting = true
	m.startErr = nil
	m.mu.Unlock()

	err := m.recorder.Start(ctx)

	m.mu.Lock()
	m.starting = false
	if err == nil && m.startErr != nil {
		// The device failed before the recording was announced.
		err = m.startErr
	}
	m.startErr = nil

	if err != nil {
		m.failure = classify(err, FailureDevice)
		m.transitionLocked(StateFailed)
		m.mu.Unlock()
		return err
	}

	m.id = uuid.NewString()
	m.audio = nil
	m.result = nil
	m.failure = nil
	m.transitionLocked(StateRecording)
	m.mu.Unlock()
	return nil
}

// Stop ends the recording and transcodes it. It is a no-op unless recording.
// A decode failure moves the session to StateFailed and is returned.
func (m *Machine) Stop() error {
	defer m.notify()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateRecording {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	raw, err := m.recorder.Stop()

	var (
		canonical *audio.CanonicalAudio
		elapsed   time.Duration
	)
	if err == nil && raw != nil {
		startTime := time.Now()
		canonical, err = m.encoder.Encode(raw)
		elapsed = time.Since(startTime)

		size := 0
		if canonical != nil {
			size = canonical.Len()
		}
		m.metrics.RecordTranscode(elapsed.Seconds(), size, err)
	}

	m.mu.Lock()
	if m.state != StateRecording {
		// A device error already failed the session.
		m.mu.Unlock()
		return nil
	}

	switch {
	case err != nil:
		m.failure = classify(err, FailureDevice)
		m.transitionLocked(StateFailed)
	case raw == nil:
		err = fmt.Errorf("recording ended without a capture")
		m.failure = classify(err, FailureDevice)
		m.transitionLocked(StateFailed)
	default:
		m.audio = canonical
		m.logger.Info("Recording transcoded",
			slog.String("session_id", m.id),
			slog.Int("raw_bytes", raw.Size()),
			slog.Int("canonical_bytes", canonical.Len()),
			slog.Int("sample_rate", canonical.SampleRate()),
			slog.Duration("audio_duration", canonical.Duration()),
			slog.Duration("transcode_time", elapsed),
		)
		m.transitionLocked(StateCaptured)
	}
	m.mu.Unlock()
	return err
}

// Analyze submits the held audio. It returns once the request is issued; the
// outcome arrives as a transition to StateAnalyzed or StateFailed. Calling it
// while analyzing is a no-op. The request is not cancelled with ctx.
func (m *Machine) Analyze(ctx context.Context) error {
	defer m.notify()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state == StateAnalyzing {
		m.mu.Unlock()
		return nil
	}
	if m.audio == nil {
		m.mu.Unlock()
		return ErrNoAudio
	}
	if m.state != StateCaptured {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot analyze from %s", ErrInvalidTransition, state)
	}

	recording := m.audio
	done := make(chan struct{})
	m.analysisDone = done
	m.transitionLocked(StateAnalyzing)
	m.mu.Unlock()

	go m.runAnalysis(context.WithoutCancel(ctx), recording, done)
	return nil
}

func (m *Machine) runAnalysis(ctx context.Context, recording *audio.CanonicalAudio, done chan struct{}) {
	defer close(done)

	result, err := m.submitter.Submit(ctx, recording)

	m.mu.Lock()
	if err != nil {
		m.failure = classify(err, FailureUnknown)
		m.transitionLocked(StateFailed)
	} else {
		m.result = result
		m.failure = nil
		m.transitionLocked(StateAnalyzed)
	}
	m.mu.Unlock()
	m.notify()
}

// Retry returns a failed session to StateCaptured when audio is still held.
func (m *Machine) Retry() error {
	defer m.notify()
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot retry from %s", ErrInvalidTransition, state)
	}
	if m.audio == nil {
		m.mu.Unlock()
		return ErrNoAudio
	}
	m.failure = nil
	m.transitionLocked(StateCaptured)
	m.mu.Unlock()
	return nil
}

// Await blocks until no analysis is in flight and returns the resulting view.
func (m *Machine) Await(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	done := m.analysisDone
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
	return m.Snapshot(), nil
}

// captureError handles a device failure reported while recording.
func (m *Machine) captureError(err error) {
	m.mu.Lock()
	if m.starting {
		m.startErr = err
		m.mu.Unlock()
		return
	}
	if m.state != StateRecording {
		m.mu.Unlock()
		return
	}
	m.failure = classify(err, FailureDevice)
	m.audio = nil
	m.transitionLocked(StateFailed)
	m.mu.Unlock()
	m.notify()
}

func (m *Machine) transitionLocked(to State) {
	from := m.state
	m.state = to
	if to != StateAnalyzed {
		// A result only describes the session while it is analyzed.
		m.result = nil
	}
	m.metrics.RecordTransition(string(from), string(to))

	attrs := []any{
		slog.String("session_id", m.id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	}
	if to == StateFailed && m.failure != nil {
		attrs = append(attrs,
			slog.String("failure_kind", string(m.failure.Kind)),
			slog.String("error", m.failure.Message),
		)
		m.logger.Warn("Session failed", attrs...)
	} else {
		m.logger.Debug("Session state changed", attrs...)
	}

	m.pending = append(m.pending, m.snapshotLocked(from))
}

func (m *Machine) snapshotLocked(previous State) Snapshot {
	snap := Snapshot{
		ID:       m.id,
		State:    m.state,
		Previous: previous,
		Audio:    m.audio,
		Failure:  m.failure,
		At:       time.Now(),
	}
	if m.result != nil {
		result := *m.result
		snap.Result = &result
	}
	if m.failure != nil {
		failure := *m.failure
		snap.Failure = &failure
	}
	return snap
}

// notify delivers pending snapshots in order. Listeners may call back into
// the machine; nested changes are delivered by the outer loop.
func (m *Machine) notify() {
	m.mu.Lock()
	if m.notifying {
		m.mu.Unlock()
		return
	}
	m.notifying = true
	for len(m.pending) > 0 {
		snap := m.pending[0]
		m.pending = m.pending[1:]
		listeners := append([]Listener(nil), m.listeners...)
		m.mu.Unlock()

		for _, l := range listeners {
			l.StateChanged(snap)
		}

		m.mu.Lock()
	}
	m.notifying = false
	m.mu.Unlock()
}
