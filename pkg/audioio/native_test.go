package audioio

import (
	"errors"
	"io"
	"slices"
	"testing"
	"time"
)

func TestPickBackend(t *testing.T) {
	tests := []struct {
		native, exec bool
		want         Backend
	}{
		{true, true, BackendNative},
		{true, false, BackendNative},
		{false, true, BackendExec},
		{false, false, BackendMock},
	}
	for _, tt := range tests {
		if got := pickBackend(tt.native, tt.exec); got != tt.want {
			t.Errorf("pickBackend(%v, %v) = %s, want %s", tt.native, tt.exec, got, tt.want)
		}
	}
}

func TestAvailableBackends(t *testing.T) {
	got := AvailableBackends()
	if !slices.Contains(got, BackendMock) {
		t.Errorf("mock missing from %v", got)
	}
	if slices.Contains(got, BackendNative) != nativeAvailable {
		t.Errorf("native listed = %v, built = %v", !nativeAvailable, nativeAvailable)
	}
}

// The native backend opens no device until Start.
func TestNewNativeBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendNative

	src, err := NewSource(cfg, nil)
	if !nativeAvailable {
		if !errors.Is(err, ErrNativeUnavailable) {
			t.Fatalf("NewSource = %v, want ErrNativeUnavailable", err)
		}
		_, err = NewSink(cfg, nil)
		if !errors.Is(err, ErrNativeUnavailable) {
			t.Fatalf("NewSink = %v, want ErrNativeUnavailable", err)
		}
		return
	}
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}
	if src.Name() != "native" {
		t.Errorf("Name = %q", src.Name())
	}
	sink, err := NewSink(cfg, nil)
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	if sink.Name() != "native" {
		t.Errorf("Name = %q", sink.Name())
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close unstarted source: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Errorf("Close unstarted sink: %v", err)
	}
}

func TestPCMQueue(t *testing.T) {
	q := newPCMQueue(16)
	q.Write([]byte{1, 2, 3, 4, 5})

	p := make([]byte, 4)
	n, err := q.Read(p)
	if err != nil || !slices.Equal(p[:n], []byte{1, 2, 3, 4}) {
		t.Errorf("Read = %v, %v", p[:n], err)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}

	q.Write([]byte{9, 9})
	q.Clear()
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
}

func TestPCMQueueCloseWakesReader(t *testing.T) {
	q := newPCMQueue(16)
	done := make(chan error, 1)
	go func() {
		_, err := q.Read(make([]byte, 4))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if err != io.EOF {
			t.Errorf("Read after Close = %v, want io.EOF", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked reader was not woken")
	}

	if _, err := q.Write([]byte{1}); err != io.ErrClosedPipe {
		t.Errorf("Write after Close = %v", err)
	}
}
