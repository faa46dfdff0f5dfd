package wsstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/callflow/capture"
)

// fakeStreamServer 接受一条 start 帧后按脚本回送帧
func fakeStreamServer(t *testing.T, frames []serverFrame) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var start startFrame
		require.NoError(t, json.Unmarshal(data, &start))
		require.Equal(t, "start", start.Type)

		for _, f := range frames {
			payload, _ := json.Marshal(f)
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				return
			}
		}
		// 等待客户端关闭
		_, _, _ = conn.Read(ctx)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStartDeliversTranscriptEvents(t *testing.T) {
	srv := fakeStreamServer(t, []serverFrame{
		{Type: "transcript", Transcript: "hel", IsFinal: false},
		{Type: "transcript", Transcript: "hello world", Confidence: 0.87, IsFinal: true},
		{Type: "end"},
	})
	defer srv.Close()

	r := New(Config{URL: wsURL(srv), Language: "en-US"}, nil)
	events, err := r.Start(context.Background())
	require.NoError(t, err)
	defer r.Stop()

	var got []capture.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				goto done
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
done:
	require.Len(t, got, 3)
	assert.Equal(t, capture.EventResult, got[0].Kind)
	assert.False(t, got[0].IsFinal)
	assert.Equal(t, "hello world", got[1].Transcript)
	assert.True(t, got[1].IsFinal)
	assert.InDelta(t, 0.87, got[1].Confidence, 1e-9)
	assert.Equal(t, capture.EventEnd, got[2].Kind)
}

func TestErrorFrameMapsToErrorEvent(t *testing.T) {
	srv := fakeStreamServer(t, []serverFrame{
		{Type: "error", Code: "not-allowed"},
		{Type: "end"},
	})
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	events, err := r.Start(context.Background())
	require.NoError(t, err)
	defer r.Stop()

	ev := <-events
	assert.Equal(t, capture.EventError, ev.Kind)
	assert.Equal(t, capture.ErrCodeNotAllowed, ev.Code)
}

func TestStartFailsWhenEndpointUnreachable(t *testing.T) {
	r := New(Config{URL: "ws://127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, nil)
	_, err := r.Start(context.Background())
	assert.Error(t, err)
}

func TestStopIsIdempotent(t *testing.T) {
	srv := fakeStreamServer(t, nil)
	defer srv.Close()

	r := New(Config{URL: wsURL(srv)}, nil)
	_, err := r.Start(context.Background())
	require.NoError(t, err)

	assert.NoError(t, r.Stop())
	assert.NoError(t, r.Stop())
}

func TestSendAudioWithoutConnection(t *testing.T) {
	r := New(Config{URL: "ws://unused"}, nil)
	assert.Error(t, r.SendAudio(context.Background(), []byte{0x00}))
}
