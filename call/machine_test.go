package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/capture"
	"github.com/BaSui01/callflow/conversation"
	"github.com/BaSui01/callflow/dialogue"
	"github.com/BaSui01/callflow/synth"
	"github.com/BaSui01/callflow/types"
)

// --- Test doubles ---

type instantProvider struct{}

func (instantProvider) Name() string                         { return "test_tts" }
func (instantProvider) Available(capability.Descriptor) bool { return true }
func (instantProvider) Synthesize(ctx context.Context, text string, params synth.VoiceParams) (*synth.Audio, error) {
	return synth.NewAudio("audio/mpeg", []byte(text), nil), nil
}

type idleRecognizer struct{}

func (idleRecognizer) Start(ctx context.Context) (<-chan capture.Event, error) {
	ch := make(chan capture.Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (idleRecognizer) Stop() error { return nil }

// blockingPlayer 阻塞播放直到上下文取消，用于在途取消场景。
type blockingPlayer struct {
	started chan struct{}
	once    sync.Once
}

func newBlockingPlayer() *blockingPlayer {
	return &blockingPlayer{started: make(chan struct{})}
}

func (p *blockingPlayer) Play(ctx context.Context, _ *synth.Audio) error {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (p *blockingPlayer) Stop() {}

type memoryRecorder struct {
	mu        sync.Mutex
	summaries []types.SessionSummary
}

func (r *memoryRecorder) RecordOutcome(_ context.Context, s types.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
	return nil
}

func (r *memoryRecorder) History(context.Context, string, int) ([]types.SessionSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.SessionSummary(nil), r.summaries...), nil
}

func (r *memoryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.summaries)
}

func testCaps() capability.Descriptor {
	return capability.Descriptor{
		DeviceClass:      capability.DeviceDesktop,
		HasCapture:       true,
		HasSynthesis:     true,
		HasMicrophoneAPI: true,
		RemoteReachable:  true,
	}
}

func fastPolicy() capability.Policy {
	return capability.Policy{
		NoSpeechTimeout:      time.Second,
		RestartDelay:         time.Millisecond,
		ProviderTimeout:      time.Second,
		AutoRearmAfterSpeech: false,
		SetupDelay:           10 * time.Millisecond,
		SilenceWarn:          time.Minute,
		SilenceHangup:        2 * time.Minute,
	}
}

type harness struct {
	machine  *Machine
	coord    *conversation.Coordinator
	recorder *memoryRecorder
}

func newHarness(t *testing.T, policy capability.Policy, engine dialogue.Engine, player synth.Player, opts ...Option) *harness {
	t.Helper()
	caps := testCaps()
	rec := &memoryRecorder{}
	if engine == nil {
		engine = dialogue.EngineFunc(func(ctx context.Context, req dialogue.Request) (*dialogue.Response, error) {
			return &dialogue.Response{Success: true, Response: "ok"}, nil
		})
	}
	m := NewMachine(caps, policy, rec, nil, nil, opts...)
	orch := synth.NewOrchestrator(
		synth.NewChain(synth.Entry{Provider: instantProvider{}}),
		caps, policy, player, nil)
	ctrl := capture.NewController(idleRecognizer{}, caps, policy, nil)
	coord := conversation.NewCoordinator(m, engine, orch, ctrl, policy, nil)
	m.Bind(coord)
	t.Cleanup(m.Reset)
	return &harness{machine: m, coord: coord, recorder: rec}
}

func waitForState(t *testing.T, m *Machine, want types.CallState) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.GetState() == want
	}, time.Second, time.Millisecond, "state never reached %s", want)
}

// --- Tests ---

func TestStartSessionDialsThenConnectsWithGreeting(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)

	id, err := h.machine.StartSession("opener", "practice", types.Persona{
		Name: "Alex", Greeting: "Hello! This is Alex.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, types.StateDialing, h.machine.GetState())

	waitForState(t, h.machine, types.StateConnected)

	require.Eventually(t, func() bool {
		s := h.machine.Snapshot()
		return s != nil && len(s.Turns) > 0
	}, time.Second, time.Millisecond)

	s := h.machine.Snapshot()
	assert.Equal(t, types.SpeakerAI, s.Turns[0].Speaker)
	assert.Equal(t, "Hello! This is Alex.", s.Turns[0].Text)
	assert.Equal(t, 0, s.Exchanges, "greeting is not an exchange")
}

func TestStartSessionRejectedWhileActive(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)

	_, err := h.machine.StartSession("opener", "practice", types.Persona{})
	require.NoError(t, err)

	_, err = h.machine.StartSession("opener", "practice", types.Persona{})
	assert.True(t, types.IsErrorCode(err, types.ErrStateViolation))
}

func TestSilenceWarningIsNonTerminal(t *testing.T) {
	policy := fastPolicy()
	policy.SilenceWarn = 40 * time.Millisecond
	policy.SilenceHangup = time.Minute

	var warned sync.WaitGroup
	warned.Add(1)
	h := newHarness(t, policy, nil, nil, WithSilenceWarning(func() { warned.Done() }))

	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	done := make(chan struct{})
	go func() { warned.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("silence warning never fired")
	}
	assert.Equal(t, types.StateConnected, h.machine.GetState())
}

func TestSilenceHangupEndsSession(t *testing.T) {
	policy := fastPolicy()
	policy.SilenceWarn = 20 * time.Millisecond
	policy.SilenceHangup = 50 * time.Millisecond

	h := newHarness(t, policy, nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)

	waitForState(t, h.machine, types.StateEnded)
	s := h.machine.Snapshot()
	assert.Equal(t, types.EndReasonSilenceTimeout, s.EndReason)
}

func TestUserTurnResetsSilenceTimers(t *testing.T) {
	policy := fastPolicy()
	policy.SilenceWarn = time.Minute
	policy.SilenceHangup = 80 * time.Millisecond

	h := newHarness(t, policy, nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	// 持续的用户活动使挂断阈值永不到期
	for i := 0; i < 5; i++ {
		time.Sleep(40 * time.Millisecond)
		require.NoError(t, h.machine.AppendTurn(types.Turn{
			Speaker: types.SpeakerUser, Text: "still here", Timestamp: time.Now(),
		}))
	}
	assert.Equal(t, types.StateConnected, h.machine.GetState())
}

func TestEndSessionCancelsInFlightSynthesis(t *testing.T) {
	player := newBlockingPlayer()
	h := newHarness(t, fastPolicy(), nil, player)

	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "long goodbye"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	// 等到开场白真正进入播放
	select {
	case <-player.started:
	case <-time.After(time.Second):
		t.Fatal("playback never started")
	}

	require.NoError(t, h.machine.EndSession(types.EndReasonUserEnded))

	s := h.machine.Snapshot()
	assert.Equal(t, types.StateEnded, s.State)
	assert.Equal(t, types.EndReasonUserEnded, s.EndReason)

	// 结束后不得再追加轮次
	err = h.machine.AppendTurn(types.Turn{Speaker: types.SpeakerAI, Text: "late", Timestamp: time.Now()})
	assert.True(t, types.IsErrorCode(err, types.ErrSessionEnded))
}

func TestEndSessionTwiceRejected(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	require.NoError(t, h.machine.EndSession(types.EndReasonUserEnded))
	err = h.machine.EndSession(types.EndReasonEngineHangup)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidTransition))

	// 首个原因保持不变
	assert.Equal(t, types.EndReasonUserEnded, h.machine.Snapshot().EndReason)
}

func TestSummaryAndRecorder(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil, WithPassThreshold(2))
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.machine.AppendTurn(types.Turn{
			Speaker: types.SpeakerUser, Text: "line", Timestamp: time.Now(),
		}))
	}
	require.NoError(t, h.machine.EndSession(types.EndReasonUserEnded))

	sum := h.machine.Summary()
	require.NotNil(t, sum)
	assert.Equal(t, 2, sum.Exchanges)
	assert.True(t, sum.Passed)
	assert.Equal(t, types.EndReasonUserEnded, sum.EndReason)
	assert.Equal(t, 1, h.recorder.count())
}

func TestSummaryBelowThresholdFails(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil, WithPassThreshold(5))
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)
	require.NoError(t, h.machine.EndSession(types.EndReasonUserEnded))

	sum := h.machine.Summary()
	require.NotNil(t, sum)
	assert.False(t, sum.Passed)
}

func TestInterimTurnSupersededByFinal(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)
	require.Eventually(t, func() bool {
		return len(h.machine.Snapshot().Turns) > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, h.machine.AppendTurn(types.Turn{Speaker: types.SpeakerUser, Text: "hel", Interim: true, Timestamp: time.Now()}))
	require.NoError(t, h.machine.AppendTurn(types.Turn{Speaker: types.SpeakerUser, Text: "hello th", Interim: true, Timestamp: time.Now()}))
	require.NoError(t, h.machine.AppendTurn(types.Turn{Speaker: types.SpeakerUser, Text: "hello there", Confidence: 0.93, Timestamp: time.Now()}))

	s := h.machine.Snapshot()
	// 开场白 + 一条最终用户轮次；临时轮次被覆盖
	require.Len(t, s.Turns, 2)
	last := s.Turns[len(s.Turns)-1]
	assert.Equal(t, "hello there", last.Text)
	assert.False(t, last.Interim)
	assert.Equal(t, 1, s.Exchanges)
}

func TestFailSessionRecordsFatalError(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	h.machine.FailSession(types.NewPermissionError("microphone access denied"))

	s := h.machine.Snapshot()
	assert.Equal(t, types.StateEnded, s.State)
	assert.Equal(t, types.EndReasonFatalError, s.EndReason)
	require.NotNil(t, h.machine.LastError())
	assert.Equal(t, types.ErrPermissionDenied, h.machine.LastError().Code)
}

func TestResetFromEnded(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)
	require.NoError(t, h.machine.EndSession(types.EndReasonUserEnded))

	h.machine.Reset()
	assert.Equal(t, types.StateIdle, h.machine.GetState())
	assert.Nil(t, h.machine.Snapshot())

	// 重置后允许开始新会话
	_, err = h.machine.StartSession("objection", "exam", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
}

func TestResetForcesAbortWhileActive(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	h.machine.Reset()
	assert.Equal(t, types.StateIdle, h.machine.GetState())

	// 强制中止也会落库，原因是 aborted
	require.Eventually(t, func() bool { return h.recorder.count() == 1 }, time.Second, time.Millisecond)
	history, err := h.recorder.History(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Equal(t, types.EndReasonAborted, history[0].EndReason)
}

func TestEndFromDialingSkipsConnect(t *testing.T) {
	policy := fastPolicy()
	policy.SetupDelay = time.Minute

	h := newHarness(t, policy, nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	assert.Equal(t, types.StateDialing, h.machine.GetState())

	require.NoError(t, h.machine.EndSession(types.EndReasonUserEnded))
	assert.Equal(t, types.StateEnded, h.machine.GetState())

	// 接通计时器已取消：状态不会再变
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, types.StateEnded, h.machine.GetState())
}

func TestEvaluationCarriedIntoSummary(t *testing.T) {
	h := newHarness(t, fastPolicy(), nil, nil)
	_, err := h.machine.StartSession("opener", "practice", types.Persona{Greeting: "hi"})
	require.NoError(t, err)
	waitForState(t, h.machine, types.StateConnected)

	h.machine.RecordEvaluation([]byte(`{"score":91}`))
	require.NoError(t, h.machine.EndSession(types.EndReasonEngineHangup))

	sum := h.machine.Summary()
	require.NotNil(t, sum)
	assert.JSONEq(t, `{"score":91}`, string(sum.Evaluation))
}
