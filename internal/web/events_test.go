package web

import (
	"net/http/httptest"
	"testing"
)

func TestEventBroker_FansOut(t *testing.T) {
	b := newEventBroker()
	subs := []chan Change{b.Subscribe(), b.Subscribe()}

	b.Publish(Change{Generation: 4, Source: "api"})

	for i, ch := range subs {
		select {
		case c := <-ch:
			if c.Generation != 4 || c.Source != "api" {
				t.Errorf("subscriber %d got %+v", i, c)
			}
		default:
			t.Errorf("subscriber %d got nothing", i)
		}
		b.Unsubscribe(ch)
	}
}

func TestEventBroker_SlowSubscriberSeesLatest(t *testing.T) {
	b := newEventBroker()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Change{Generation: 1, Source: "api"})
	b.Publish(Change{Generation: 2, Source: "watch"})

	if c := <-ch; c.Generation != 2 || c.Source != "watch" {
		t.Errorf("pending change = %+v, want generation 2 from watch", c)
	}
	select {
	case c := <-ch:
		t.Errorf("second change queued: %+v", c)
	default:
	}
}

func TestEventBroker_UnsubscribedGetsNothing(t *testing.T) {
	b := newEventBroker()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	b.Publish(Change{Generation: 3})

	select {
	case c := <-ch:
		t.Errorf("received %+v after Unsubscribe", c)
	default:
	}
}

func TestWriteEvent_Format(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := writeEvent(rec, "refresh", Change{Generation: 7, Source: "watch"}); err != nil {
		t.Fatal(err)
	}
	want := "id: 7\nevent: refresh\ndata: {\"generation\":7,\"source\":\"watch\"}\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("event = %q, want %q", got, want)
	}
}
