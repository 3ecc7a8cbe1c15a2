package record

import (
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		Error: "ERROR",
		Warn:  "WARN",
		Info:  "INFO",
		Debug: "DEBUG",
		Trace: "TRACE",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}

func TestNewLog(t *testing.T) {
	now := time.Now()
	r := NewLog(Info, "t", "hello", "pkg/mod", "main.go", 42, now)
	if r.Kind != Log || r.Level != Info || r.Args != "hello" || r.Line != 42 {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.Formated != "" {
		t.Fatalf("Formated should start empty, got %q", r.Formated)
	}
}

func TestNewFlushBarrierReleasesAfterAllDone(t *testing.T) {
	rec, wg := NewFlushBarrier(3)
	if rec.Kind != Flush || rec.Wait != wg {
		t.Fatalf("unexpected flush record: %+v", rec)
	}
	if rec.Now.IsZero() {
		t.Fatal("NewFlush must stamp Now so rolling policies don't compare against a zero time")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("Wait returned before all appenders called Done")
	case <-time.After(20 * time.Millisecond):
	}

	wg.Done()
	wg.Done()
	wg.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Wait did not return after all Done calls")
	}
}

func TestNewExit(t *testing.T) {
	r := NewExit()
	if r.Kind != Exit {
		t.Fatalf("NewExit: want Kind Exit, got %v", r.Kind)
	}
	if r.Now.IsZero() {
		t.Fatal("NewExit must stamp Now")
	}
}
