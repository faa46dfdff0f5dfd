package capture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/callflow/capability"
	"github.com/BaSui01/callflow/types"
)

// --- Inline mocks (function callback pattern) ---

type mockRecognizer struct {
	mu      sync.Mutex
	startFn func(ctx context.Context) (<-chan Event, error)
	stops   int
	starts  int
}

func (m *mockRecognizer) Start(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	m.starts++
	m.mu.Unlock()
	if m.startFn != nil {
		return m.startFn(ctx)
	}
	ch := make(chan Event)
	close(ch)
	return ch, nil
}

func (m *mockRecognizer) Stop() error {
	m.mu.Lock()
	m.stops++
	m.mu.Unlock()
	return nil
}

func (m *mockRecognizer) startCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// scriptEvents 返回一个按脚本发送事件后关闭的识别器
func scriptEvents(events ...Event) func(ctx context.Context) (<-chan Event, error) {
	return func(ctx context.Context) (<-chan Event, error) {
		ch := make(chan Event, len(events))
		for _, ev := range events {
			ch <- ev
		}
		close(ch)
		return ch, nil
	}
}

func testCaps() capability.Descriptor {
	return capability.Descriptor{
		DeviceClass:      capability.DeviceDesktop,
		HasCapture:       true,
		HasSynthesis:     true,
		HasMicrophoneAPI: true,
	}
}

func testPolicy() capability.Policy {
	return capability.Policy{
		NoSpeechTimeout:    200 * time.Millisecond,
		MinRestartInterval: 50 * time.Millisecond,
		RestartDelay:       10 * time.Millisecond,
	}
}

func TestStartDeliversFinalResult(t *testing.T) {
	rec := &mockRecognizer{startFn: scriptEvents(
		Event{Kind: EventResult, Transcript: "hello ", IsFinal: false},
		Event{Kind: EventResult, Transcript: "hello there", Confidence: 0.93, IsFinal: true},
	)}
	c := NewController(rec, testCaps(), testPolicy(), nil)

	var interim, final string
	c.SetEvents(Events{
		OnInterim: func(text string) { interim = text },
		OnFinal:   func(text string, conf float64) { final = text },
	})

	out, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusResult, out.Status)
	assert.Equal(t, "hello there", out.Text)
	assert.InDelta(t, 0.93, out.Confidence, 1e-9)
	assert.Equal(t, "hello ", interim)
	assert.Equal(t, "hello there", final)
	assert.False(t, c.Listening())
}

func TestStartRejectedWithoutCapturePrimitive(t *testing.T) {
	caps := testCaps()
	caps.HasCapture = false
	c := NewController(&mockRecognizer{}, caps, testPolicy(), nil)

	_, err := c.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrCapabilityUnsupported))
}

func TestStartRejectedWithoutMicrophoneAPI(t *testing.T) {
	caps := testCaps()
	caps.HasMicrophoneAPI = false
	c := NewController(&mockRecognizer{}, caps, testPolicy(), nil)

	_, err := c.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrPermissionDenied))
}

func TestFatalErrorSurfacesAndNeverRestarts(t *testing.T) {
	rec := &mockRecognizer{startFn: scriptEvents(
		Event{Kind: EventError, Code: ErrCodeNotAllowed},
	)}
	c := NewController(rec, testCaps(), testPolicy(), nil)
	c.SetContinuous(true)

	_, err := c.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrPermissionDenied))

	// 致命错误不得触发自动重启
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.startCount())
}

func TestTransientEndRestartsInContinuousMode(t *testing.T) {
	var mu sync.Mutex
	attempt := 0
	rec := &mockRecognizer{}
	rec.startFn = func(ctx context.Context) (<-chan Event, error) {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()
		ch := make(chan Event, 2)
		if n == 1 {
			// 第一次会话无结果即结束
			ch <- Event{Kind: EventError, Code: ErrCodeNoSpeech}
		} else {
			ch <- Event{Kind: EventResult, Transcript: "second try", Confidence: 0.8, IsFinal: true}
		}
		close(ch)
		return ch, nil
	}
	policy := testPolicy()
	policy.MinRestartInterval = 0
	c := NewController(rec, testCaps(), policy, nil)
	c.SetContinuous(true)

	out, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second try", out.Text)
	assert.Equal(t, 2, rec.startCount())
}

func TestRestartDiscardedWithinMinInterval(t *testing.T) {
	rec := &mockRecognizer{startFn: scriptEvents(
		Event{Kind: EventError, Code: ErrCodeAborted},
	)}
	policy := testPolicy()
	policy.MinRestartInterval = time.Hour // 任何重启都在最小间隔内
	c := NewController(rec, testCaps(), policy, nil)
	c.SetContinuous(true)

	_, err := c.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrTransientRecognition))
	assert.True(t, types.IsRetryable(err))
	assert.Equal(t, 1, rec.startCount())
}

func TestRestartGateBlocksRestart(t *testing.T) {
	rec := &mockRecognizer{startFn: scriptEvents(
		Event{Kind: EventError, Code: ErrCodeNoSpeech},
	)}
	policy := testPolicy()
	policy.MinRestartInterval = 0
	c := NewController(rec, testCaps(), policy, nil)
	c.SetContinuous(true)
	c.SetRestartGate(func() bool { return false }) // 合成进行中

	_, err := c.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrTransientRecognition))
	assert.Equal(t, 1, rec.startCount())
}

func TestStopDuringRestartLeavesCaptureStopped(t *testing.T) {
	var mu sync.Mutex
	attempt := 0
	restarting := make(chan struct{})
	unblock := make(chan struct{})
	rec := &mockRecognizer{}
	rec.startFn = func(ctx context.Context) (<-chan Event, error) {
		mu.Lock()
		attempt++
		n := attempt
		mu.Unlock()
		if n == 1 {
			// 第一次会话无结果即结束，触发重启协议
			ch := make(chan Event, 1)
			ch <- Event{Kind: EventError, Code: ErrCodeNoSpeech}
			close(ch)
			return ch, nil
		}
		close(restarting)
		<-unblock
		ch := make(chan Event)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}
	policy := testPolicy()
	policy.MinRestartInterval = 0
	c := NewController(rec, testCaps(), policy, nil)
	c.SetContinuous(true)

	done := make(chan struct{})
	var out *Outcome
	var err error
	go func() {
		out, err = c.Start(context.Background())
		close(done)
	}()

	// Stop 落在重启计时器触发之后、物理启动完成之前
	<-restarting
	c.Stop()
	close(unblock)

	<-done
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)

	require.Eventually(t, func() bool { return !c.Listening() },
		time.Second, time.Millisecond, "capture still listening after stop")
}

func TestStopResolvesPendingStart(t *testing.T) {
	rec := &mockRecognizer{startFn: func(ctx context.Context) (<-chan Event, error) {
		ch := make(chan Event) // 永不产生结果
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}}
	c := NewController(rec, testCaps(), testPolicy(), nil)

	done := make(chan struct{})
	var out *Outcome
	var err error
	go func() {
		out, err = c.Start(context.Background())
		close(done)
	}()

	// 等待进入监听状态后停止
	require.Eventually(t, c.Listening, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop() // 幂等

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not resolve after Stop")
	}
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.False(t, c.Listening())
}

func TestDuplicateStartRejected(t *testing.T) {
	rec := &mockRecognizer{startFn: func(ctx context.Context) (<-chan Event, error) {
		ch := make(chan Event)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}}
	c := NewController(rec, testCaps(), testPolicy(), nil)

	go func() { _, _ = c.Start(context.Background()) }()
	require.Eventually(t, c.Listening, time.Second, 5*time.Millisecond)

	_, err := c.Start(context.Background())
	assert.True(t, types.IsErrorCode(err, types.ErrStateViolation))
	c.Stop()
}

func TestSilenceEventAfterNoSpeechTimeout(t *testing.T) {
	rec := &mockRecognizer{startFn: func(ctx context.Context) (<-chan Event, error) {
		ch := make(chan Event)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}}
	policy := testPolicy()
	policy.NoSpeechTimeout = 30 * time.Millisecond
	c := NewController(rec, testCaps(), policy, nil)

	silence := make(chan struct{}, 1)
	c.SetEvents(Events{OnSilence: func() {
		select {
		case silence <- struct{}{}:
		default:
		}
	}})

	go func() { _, _ = c.Start(context.Background()) }()
	defer c.Stop()

	select {
	case <-silence:
	case <-time.After(time.Second):
		t.Fatal("expected silence event")
	}
}

func TestContextCancellationResolvesStart(t *testing.T) {
	rec := &mockRecognizer{startFn: func(ctx context.Context) (<-chan Event, error) {
		ch := make(chan Event)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		return ch, nil
	}}
	c := NewController(rec, testCaps(), testPolicy(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var out *Outcome
	go func() {
		out, _ = c.Start(ctx)
		close(done)
	}()
	require.Eventually(t, c.Listening, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not resolve after context cancellation")
	}
	assert.Equal(t, StatusCancelled, out.Status)
}
