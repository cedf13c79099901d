package streamport

import (
	"os"
	"testing"
	"time"
)

// pipePort returns a (writer, reader) pair: bytes written to w's WriteAll
// are read back through r's ReadExact/PollReadable.
func pipePort(t *testing.T) (w *Port, r *Port) {
	t.Helper()
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	t.Cleanup(func() {
		pr.Close()
		pw.Close()
	})
	return NewForTest(pw), NewForTest(pr)
}

func TestWriteAllReadExact(t *testing.T) {
	w, r := pipePort(t)
	msg := []byte("hello, stream device")

	errCh := make(chan error, 1)
	go func() { errCh <- w.WriteAll(msg) }()

	buf := make([]byte, len(msg))
	if err := r.ReadExact(buf); err != nil {
		t.Fatalf("ReadExact: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func TestReadExactShortReadIsFatal(t *testing.T) {
	w, r := pipePort(t)
	go func() {
		w.WriteAll([]byte("ab"))
		w.writeFile.Close()
	}()
	buf := make([]byte, 10)
	if err := r.ReadExact(buf); err == nil {
		t.Fatal("expected error on short read before EOF/close")
	}
}

func TestPollReadableNonBlocking(t *testing.T) {
	w, r := pipePort(t)

	ready, err := r.PollReadable(false)
	if err != nil {
		t.Fatalf("PollReadable: %v", err)
	}
	if ready {
		t.Fatal("expected not-ready before any write")
	}

	w.WriteAll([]byte("x"))
	time.Sleep(10 * time.Millisecond)

	ready, err = r.PollReadable(false)
	if err != nil {
		t.Fatalf("PollReadable: %v", err)
	}
	if !ready {
		t.Fatal("expected ready after write")
	}
}

func TestLockUnlockSerializes(t *testing.T) {
	p := &Port{}
	p.Lock()
	done := make(chan struct{})
	go func() {
		p.Lock()
		close(done)
		p.Unlock()
	}()
	select {
	case <-done:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}
	p.Unlock()
	<-done
}
