package retry

import (
	"errors"
	"io"
	"net"
	"testing"
)

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string   { return "fake timeout" }
func (fakeTimeoutErr) Timeout() bool   { return true }
func (fakeTimeoutErr) Temporary() bool { return true }

var _ net.Error = fakeTimeoutErr{}

func TestInvokeSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result := Invoke(func(attempt int) (int, Outcome) {
		calls++
		return 42, Outcome{}
	}, 3, 0, nil)

	if !result.Succeeded {
		t.Fatal("expected success")
	}
	if result.Value != 42 {
		t.Fatalf("Value=%d want 42", result.Value)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	calls := 0
	result := Invoke(func(attempt int) (string, Outcome) {
		calls++
		if attempt < 3 {
			return "", Outcome{Retry: true, Err: errors.New("transient")}
		}
		return "done", Outcome{}
	}, 5, 0, nil)

	if !result.Succeeded {
		t.Fatal("expected eventual success")
	}
	if result.Value != "done" {
		t.Fatalf("Value=%q want done", result.Value)
	}
	if result.Attempts != 3 {
		t.Fatalf("Attempts=%d want 3", result.Attempts)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestInvokeStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	sentinel := errors.New("always fails")
	result := Invoke(func(attempt int) (int, Outcome) {
		calls++
		return 0, Outcome{Retry: true, Err: sentinel}
	}, 4, 0, nil)

	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if calls != 4 {
		t.Fatalf("calls=%d want 4", calls)
	}
	if result.Attempts != 4 {
		t.Fatalf("Attempts=%d want 4", result.Attempts)
	}
	if !errors.Is(result.LastErr, sentinel) {
		t.Fatalf("LastErr=%v want %v", result.LastErr, sentinel)
	}
}

func TestInvokeStopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	sentinel := errors.New("fatal")
	result := Invoke(func(attempt int) (int, Outcome) {
		calls++
		return 0, Outcome{Retry: false, Err: sentinel}
	}, 5, 0, nil)

	if result.Succeeded {
		t.Fatal("expected failure")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1 (should not retry a non-retryable outcome)", calls)
	}
	if !errors.Is(result.LastErr, sentinel) {
		t.Fatalf("LastErr=%v want %v", result.LastErr, sentinel)
	}
}

func TestInvokeObserverSeesEveryFailingAttempt(t *testing.T) {
	var seen []int
	var retryFlags []bool
	Invoke(func(attempt int) (int, Outcome) {
		return 0, Outcome{Retry: true, Err: errors.New("transient")}
	}, 3, 0, func(attempt int, err error, willRetry bool) {
		seen = append(seen, attempt)
		retryFlags = append(retryFlags, willRetry)
	})

	if len(seen) != 3 {
		t.Fatalf("observer saw %d attempts, want 3", len(seen))
	}
	for i, attempt := range seen {
		if attempt != i+1 {
			t.Fatalf("attempt sequence=%v want 1,2,3", seen)
		}
	}
	if retryFlags[0] != true || retryFlags[1] != true || retryFlags[2] != false {
		t.Fatalf("retryFlags=%v want [true true false]", retryFlags)
	}
}

func TestIsRetryableClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"net timeout", fakeTimeoutErr{}, true},
		{"unexpected eof", io.ErrUnexpectedEOF, true},
		{"eof", io.EOF, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v)=%v want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestMaxAttemptsLessThanOneTreatedAsOne(t *testing.T) {
	calls := 0
	result := Invoke(func(attempt int) (int, Outcome) {
		calls++
		return 0, Outcome{Retry: true, Err: errors.New("fails")}
	}, 0, 0, nil)

	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
	if result.Attempts != 1 {
		t.Fatalf("Attempts=%d want 1", result.Attempts)
	}
}
