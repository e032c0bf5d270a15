package walletstate

import (
	"context"
	"sync"
	"time"
)

// stepClock advances one millisecond per call so consecutive events get
// distinct createdAt values.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestEngine() *Engine {
	return New(WithClock(newStepClock().Now))
}

func credential(data string) NewCredential {
	return NewCredential{Data: data, Format: "mso_mdoc"}
}

// mustAdd appends one credential and returns the container and its event.
func mustAdd(e *Engine, c Container, data string) (Container, Event) {
	next, ev, err := e.Append(context.Background(), c, credential(data))
	if err != nil {
		panic(err)
	}
	return next, ev
}

func mustDelete(e *Engine, c Container, id CredentialID) Container {
	next, _, err := e.DeleteCredential(context.Background(), c, id)
	if err != nil {
		panic(err)
	}
	return next
}

// unknownEvent builds a correctly hashed event of a kind this build does not
// know, as a newer replica would have written it.
func unknownEvent(e *Engine, prev string, at time.Time) Event {
	ev := Event{
		PrevHash:  prev,
		Kind:      EventKind("pin_credential"),
		Payload:   []byte(`{"credentialId":"abc"}`),
		CreatedAt: eventTime(at),
	}
	id, err := e.eventID(context.Background(), ev)
	if err != nil {
		panic(err)
	}
	ev.ID = id
	return ev
}
