package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/dualscribe/internal/transcript"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub(nil, 4)
	a := hub.Subscribe("")
	b := hub.Subscribe("")

	hub.PublishUpdate(Update{SessionID: "s1", IsFinal: true})

	for i, sub := range []*Subscriber{a, b} {
		select {
		case event := <-sub.C:
			if event.Type != TypeTranscriptionUpdate || event.SessionID != "s1" {
				t.Errorf("Subscriber %d: unexpected event %+v", i, event)
			}
		default:
			t.Errorf("Subscriber %d: expected an event", i)
		}
	}

	if stats := hub.Stats(); stats.Published != 1 || stats.Delivered != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestHubSessionFilter(t *testing.T) {
	hub := NewHub(nil, 4)
	sub := hub.Subscribe("s2")

	hub.PublishProgress(Progress{SessionID: "s1"})
	hub.PublishProgress(Progress{SessionID: "s2", TotalItems: 3})

	select {
	case event := <-sub.C:
		progress, ok := event.Payload.(Progress)
		if !ok || progress.SessionID != "s2" || progress.TotalItems != 3 {
			t.Errorf("Unexpected event: %+v", event)
		}
	default:
		t.Fatal("Expected an event for the subscribed session")
	}

	select {
	case event := <-sub.C:
		t.Errorf("Expected no further events, got %+v", event)
	default:
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(nil, 2)
	slow := hub.Subscribe("")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.PublishUpdate(Update{SessionID: "s"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if len(slow.C) != 2 {
		t.Errorf("Expected buffer of 2 to be full, got %d", len(slow.C))
	}
	if stats := hub.Stats(); stats.Dropped != 3 {
		t.Errorf("Expected 3 dropped events, got %d", stats.Dropped)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub(nil, 4)
	sub := hub.Subscribe("")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	if hub.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	select {
	case <-sub.Done():
	default:
		t.Error("Expected Done to be closed")
	}

	hub.PublishUpdate(Update{SessionID: "s"})
	if len(sub.C) != 0 {
		t.Error("Expected no delivery after unsubscribe")
	}
}

func TestServeWS(t *testing.T) {
	hub := NewHub(nil, 8)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?session_id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for the handler to register its subscriber
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.PublishUpdate(Update{
		SessionID: "s1",
		Source:    transcript.SourceMic,
		Segments:  []transcript.Segment{{StartTime: 1, EndTime: 2, Text: "hello", Speaker: transcript.SpeakerYou}},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	var received struct {
		Type    string `json:"type"`
		Payload Update `json:"payload"`
	}
	if err := json.Unmarshal(data, &received); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}

	if received.Type != TypeTranscriptionUpdate {
		t.Errorf("Expected type %q, got %q", TypeTranscriptionUpdate, received.Type)
	}
	if len(received.Payload.Segments) != 1 || received.Payload.Segments[0].Speaker != transcript.SpeakerYou {
		t.Errorf("Unexpected payload: %+v", received.Payload)
	}
	if received.Payload.Source != transcript.SourceMic {
		t.Errorf("Expected source mic, got %q", received.Payload.Source)
	}
}
