package progressive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStreamSource_StopsAtEnd(t *testing.T) {
	src := newScriptedSource(Chunk{Data: []byte("abc")}, Chunk{Done: true})
	ss := NewStreamSource(src)
	ctx := context.Background()

	if c, err := ss.Next(ctx); err != nil || string(c.Data) != "abc" {
		t.Fatalf("first Next = %q, %v", c.Data, err)
	}
	if c, err := ss.Next(ctx); err != nil || !c.Done {
		t.Fatalf("second Next = %+v, %v", c, err)
	}
	if _, err := ss.Next(ctx); !errors.Is(err, ErrSourceExhausted) {
		t.Fatalf("Next after end = %v, want ErrSourceExhausted", err)
	}
	if _, overRead, _ := src.counts(); overRead != 0 {
		t.Errorf("source read past its end %d times", overRead)
	}
	if !ss.Exhausted() || ss.BytesRead() != 3 {
		t.Errorf("Exhausted = %v BytesRead = %d", ss.Exhausted(), ss.BytesRead())
	}

	cancelled, err := ss.Release()
	if err != nil || cancelled {
		t.Errorf("Release = %v, %v; want not cancelled", cancelled, err)
	}
	if cancelled, _ := ss.Release(); cancelled {
		t.Error("second Release reported a cancel")
	}
	if _, _, closed := src.counts(); closed != 1 {
		t.Errorf("closed %d times, want 1", closed)
	}
}

func TestStreamSource_ReleaseBeforeEnd(t *testing.T) {
	src := newScriptedSource(dataChunks("a", "b")...)
	ss := NewStreamSource(src)

	if _, err := ss.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	cancelled, err := ss.Release()
	if err != nil || !cancelled {
		t.Errorf("Release = %v, %v; want cancelled", cancelled, err)
	}
	if _, err := ss.Next(context.Background()); !errors.Is(err, ErrSourceReleased) {
		t.Errorf("Next after Release = %v", err)
	}
}

func TestStreamSource_KeepsReadError(t *testing.T) {
	src := newScriptedSource(dataChunks("a")...)
	src.errAt = 0
	ss := NewStreamSource(src)

	_, first := ss.Next(context.Background())
	if first == nil {
		t.Fatal("expected a read error")
	}
	if _, err := ss.Next(context.Background()); err != first {
		t.Errorf("second Next = %v, want the first error again", err)
	}
	if reads, _, _ := src.counts(); reads != 1 {
		t.Errorf("reads = %d, want 1", reads)
	}
	if ss.Err() != first {
		t.Errorf("Err = %v", ss.Err())
	}
}

func TestReaderSource(t *testing.T) {
	payload := strings.Repeat("0123456789", 10)
	rs := NewReaderSource(io.NopCloser(strings.NewReader(payload)), 16)

	var got bytes.Buffer
	for {
		c, err := rs.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		if len(c.Data) > 16 {
			t.Fatalf("chunk of %d bytes exceeds chunk size", len(c.Data))
		}
		got.Write(c.Data)
		if c.Done {
			break
		}
	}
	if got.String() != payload {
		t.Errorf("read %q, want %q", got.String(), payload)
	}
}

func TestReaderSource_CancelledContext(t *testing.T) {
	rs := NewReaderSource(io.NopCloser(strings.NewReader("x")), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := rs.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read = %v, want context.Canceled", err)
	}
}

func TestChannelSource(t *testing.T) {
	cs := NewChannelSource(4)

	go func() {
		for _, p := range []string{"ab", "cd", "ef"} {
			if _, err := cs.Write([]byte(p)); err != nil {
				t.Errorf("Write: %v", err)
			}
		}
		_ = cs.CloseWrite()
	}()

	var got bytes.Buffer
	for {
		c, err := cs.Read(context.Background())
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got.Write(c.Data)
		if c.Done {
			break
		}
	}
	if got.String() != "abcdef" {
		t.Errorf("read %q", got.String())
	}
	if _, err := cs.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Write after CloseWrite = %v", err)
	}
}

func TestChannelSource_CloseUnblocksWriter(t *testing.T) {
	cs := NewChannelSource(1)
	if _, err := cs.Write([]byte("fills the queue")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := cs.Write([]byte("blocks"))
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	_ = cs.Close()

	select {
	case err := <-errc:
		if !errors.Is(err, io.ErrClosedPipe) {
			t.Errorf("blocked Write = %v, want io.ErrClosedPipe", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not unblock the writer")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := cs.Read(ctx); err == nil {
		t.Error("Read after Close succeeded")
	}
}

func TestHTTPOpener(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("missing custom header")
		}
		if r.URL.Path == "/missing.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer server.Close()

	o := NewHTTPOpener(time.Second, 4, map[string]string{"X-Token": "abc"})

	src, err := o.Open(context.Background(), server.URL+"/guide.mp3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ss := NewStreamSource(src)
	defer ss.Release()

	var got bytes.Buffer
	for {
		c, err := ss.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		got.Write(c.Data)
		if c.Done {
			break
		}
	}
	if got.String() != "ID3audio" {
		t.Errorf("body = %q", got.String())
	}

	if _, err := o.Open(context.Background(), server.URL+"/missing.mp3"); err == nil {
		t.Error("Open of a 404 succeeded")
	}
}
