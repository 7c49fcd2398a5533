package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/domain/event"
)

// agentServer answers every decision.request with one decision.token event.
func agentServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			in, err := event.Decode(data)
			if err != nil || in.Topic != event.TopicDecisionRequest {
				continue
			}
			out, _ := event.New(event.TopicDecisionToken, in.CorrelationID, event.TokenPayload{Delta: `{"mode":`})
			raw, _ := json.Marshal(out)
			if err := c.Write(ctx, websocket.MessageText, raw); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannel_SendAndReceive(t *testing.T) {
	srv := agentServer(t)
	ch, err := Dial(context.Background(), config.Channel{AgentURL: wsURL(srv), DialTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = ch.Close() }()

	got := make(chan []byte, 1)
	stop := ch.Receive(func(_ context.Context, data []byte) { got <- data })
	defer stop()

	req, _ := event.New(event.TopicDecisionRequest, "c1", event.DecisionRequest{Utterance: "check disk space"})
	if err := ch.Send(context.Background(), &req); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case data := <-got:
		e, err := event.Decode(data)
		if err != nil {
			t.Fatal(err)
		}
		if e.Topic != event.TopicDecisionToken || e.CorrelationID != "c1" {
			t.Fatalf("received %+v", e)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received")
	}
}

func TestChannel_DialFailure(t *testing.T) {
	_, err := Dial(context.Background(), config.Channel{AgentURL: "ws://127.0.0.1:1/events", DialTimeout: time.Second})
	if err == nil {
		t.Fatal("expected dial error")
	}
}

func TestChannel_SendAfterClose(t *testing.T) {
	srv := agentServer(t)
	ch, err := Dial(context.Background(), config.Channel{AgentURL: wsURL(srv), DialTimeout: 3 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if err := ch.Close(); err != nil {
		t.Fatal(err)
	}
	e, _ := event.New(event.TopicExecutionCancel, "c1", nil)
	if err := ch.Send(context.Background(), &e); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("Send after Close err = %v", err)
	}
}
