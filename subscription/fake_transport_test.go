package subscription

import (
	"errors"
	"sync"

	"board-sync/domain"
)

type fakeHandle struct {
	transport *fakeTransport
	scope     Scope
	onEvent   func(domain.ChangeEvent)
	onStatus  func(Status, error)
	closed    bool
}

func (h *fakeHandle) Close() error {
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	if h.closed {
		return errors.New("handle closed twice")
	}
	h.closed = true
	return nil
}

func (h *fakeHandle) emit(ev domain.ChangeEvent) { h.onEvent(ev) }

func (h *fakeHandle) status(st Status, err error) { h.onStatus(st, err) }

func (h *fakeHandle) isClosed() bool {
	h.transport.mu.Lock()
	defer h.transport.mu.Unlock()
	return h.closed
}

// fakeTransport records every opened handle. It counts an overlap whenever a
// subscription is opened while an earlier one is still live.
type fakeTransport struct {
	mu          sync.Mutex
	handles     []*fakeHandle
	overlaps    int
	autoConfirm bool
	openErr     error
	opening     chan struct{}
	gate        chan struct{}
}

func (f *fakeTransport) Open(scope Scope, onEvent func(domain.ChangeEvent), onStatus func(Status, error)) (Handle, error) {
	if f.opening != nil {
		f.opening <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	for _, h := range f.handles {
		if !h.closed {
			f.overlaps++
		}
	}
	h := &fakeHandle{transport: f, scope: scope, onEvent: onEvent, onStatus: onStatus}
	f.handles = append(f.handles, h)
	f.mu.Unlock()

	if f.autoConfirm {
		onStatus(StatusSubscribed, nil)
	}
	return h, nil
}

func (f *fakeTransport) opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeTransport) last() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

func (f *fakeTransport) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, h := range f.handles {
		if !h.closed {
			n++
		}
	}
	return n
}
