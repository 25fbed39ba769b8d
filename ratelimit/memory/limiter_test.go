package memorylimiter

import (
	"testing"
	"time"
)

func TestAllowNamedSlidingWindow(t *testing.T) {
	l := New(map[string]Limit{"auth_fail": {Limit: 2, Window: 50 * time.Millisecond}})

	for i := 0; i < 2; i++ {
		ok, err := l.AllowNamed("auth_fail", "203.0.113.9")
		if err != nil || !ok {
			t.Fatalf("attempt %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := l.AllowNamed("auth_fail", "203.0.113.9"); ok {
		t.Fatal("third attempt inside window allowed")
	}

	// A different key has its own bucket.
	if ok, _ := l.AllowNamed("auth_fail", "198.51.100.7"); !ok {
		t.Fatal("separate key denied")
	}

	// The window slides: old entries expire.
	time.Sleep(60 * time.Millisecond)
	if ok, _ := l.AllowNamed("auth_fail", "203.0.113.9"); !ok {
		t.Fatal("attempt after window denied")
	}
}

func TestAllowNamedRequiresBucketAndKey(t *testing.T) {
	l := New(nil)
	if _, err := l.AllowNamed("", "key"); err == nil {
		t.Error("empty bucket accepted")
	}
	if _, err := l.AllowNamed("bucket", ""); err == nil {
		t.Error("empty key accepted")
	}
}
