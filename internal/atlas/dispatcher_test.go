package atlas

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeWriter captures written frames and can auto-respond via the dispatcher.
type fakeWriter struct {
	mu     sync.Mutex
	frames [][]byte
	// respond, if set, is called with each decoded request after the write.
	respond func(req *Message)
	err     error
}

func (w *fakeWriter) WriteFrame(data []byte) error {
	w.mu.Lock()
	w.frames = append(w.frames, append([]byte(nil), data...))
	respond := w.respond
	err := w.err
	w.mu.Unlock()

	if err != nil {
		return err
	}
	if respond != nil {
		msg, derr := DecodeMessage(bytes.TrimSuffix(data, []byte("\n")))
		if derr == nil {
			go respond(msg)
		}
	}
	return nil
}

func (w *fakeWriter) frameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func TestDispatcherRoundTrip(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(w, time.Second, nil)
	defer d.Fail(ErrClosed)

	w.respond = func(req *Message) {
		d.HandleResponse(&Message{ID: req.ID, Param: req.Param, Value: []byte("-12.5")})
	}

	msg, err := d.Do(context.Background(), NewRequest(MethodGet, "OutputGain_2"))
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	v, err := msg.Float()
	if err != nil {
		t.Fatalf("Float() error: %v", err)
	}
	if v != -12.5 {
		t.Errorf("value = %v, want -12.5", v)
	}
}

func TestDispatcherDeviceError(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(w, time.Second, nil)
	defer d.Fail(ErrClosed)

	w.respond = func(req *Message) {
		d.HandleResponse(&Message{
			ID:    req.ID,
			Error: &WireError{Code: 400, Message: "unknown parameter"},
		})
	}

	_, err := d.Do(context.Background(), NewRequest(MethodGet, "Bogus_99"))
	if !errors.Is(err, ErrDeviceRejected) {
		t.Errorf("error = %v, want ErrDeviceRejected", err)
	}
}

func TestDispatcherTimeout(t *testing.T) {
	w := &fakeWriter{} // never responds
	d := NewDispatcher(w, 50*time.Millisecond, nil)
	defer d.Fail(ErrClosed)

	start := time.Now()
	_, err := d.Do(context.Background(), NewRequest(MethodPing, ""))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("timed out after %v, want >= 50ms", elapsed)
	}
}

func TestDispatcherIgnoresMismatchedID(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(w, time.Second, nil)
	defer d.Fail(ErrClosed)

	w.respond = func(req *Message) {
		// Late response from a previous (timed out) command first.
		d.HandleResponse(&Message{ID: "stale-id", Value: []byte("0")})
		d.HandleResponse(&Message{ID: req.ID, Value: []byte("1")})
	}

	msg, err := d.Do(context.Background(), NewRequest(MethodGet, "OutputGain_1"))
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if v, _ := msg.Float(); v != 1 {
		t.Errorf("value = %v, want 1", v)
	}
}

func TestDispatcherSerialisesFIFO(t *testing.T) {
	w := &fakeWriter{}
	d := NewDispatcher(w, time.Second, nil)
	defer d.Fail(ErrClosed)

	var order []string
	var mu sync.Mutex
	w.respond = func(req *Message) {
		mu.Lock()
		order = append(order, req.Param)
		mu.Unlock()
		d.HandleResponse(&Message{ID: req.ID, Value: []byte("0")})
	}

	var wg sync.WaitGroup
	params := []string{"A_1", "A_2", "A_3", "A_4"}
	results := make([]error, len(params))
	for i, p := range params {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			_, results[i] = d.Do(context.Background(), NewRequest(MethodSet, p))
		}(i, p)
		time.Sleep(10 * time.Millisecond) // establish arrival order
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Fatalf("command %d error: %v", i, err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(params) {
		t.Fatalf("executed %d commands, want %d", len(order), len(params))
	}
	for i, p := range params {
		if order[i] != p {
			t.Errorf("execution order[%d] = %s, want %s", i, order[i], p)
		}
	}
}

func TestDispatcherFailDrainsPending(t *testing.T) {
	w := &fakeWriter{} // never responds, so the first command blocks
	d := NewDispatcher(w, 10*time.Second, nil)

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := d.Do(context.Background(), NewRequest(MethodPing, ""))
			errs <- err
		}()
	}

	// Let the commands queue up, then fail the connection.
	time.Sleep(50 * time.Millisecond)
	wantErr := errors.New("link down")
	d.Fail(wantErr)

	for i := 0; i < 3; i++ {
		select {
		case err := <-errs:
			if !errors.Is(err, wantErr) {
				t.Errorf("drained command error = %v, want %v", err, wantErr)
			}
		case <-time.After(time.Second):
			t.Fatal("command not drained after Fail")
		}
	}
}

func TestDispatcherRejectsAfterFail(t *testing.T) {
	d := NewDispatcher(&fakeWriter{}, time.Second, nil)
	d.Fail(ErrClosed)

	_, err := d.Do(context.Background(), NewRequest(MethodPing, ""))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
}
