package registry

import (
	"testing"
	"time"

	"github.com/sardanioss/httpcloakproxy/apierrors"
	"github.com/sardanioss/httpcloakproxy/fingerprint"
)

func testPreset() *fingerprint.Preset { return fingerprint.Chrome133() }

func TestCreateAssignsUniqueHandles(t *testing.T) {
	r := New(10, time.Hour, testPreset(), 0)
	defer r.Close()

	a, err := r.Create("")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := r.Create("")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.Handle == b.Handle {
		t.Error("two sessions minted by Create() share a handle")
	}
}

func TestCreateFailsAtCapacity(t *testing.T) {
	r := New(1, time.Hour, testPreset(), 0)
	defer r.Close()

	if _, err := r.Create(""); err != nil {
		t.Fatalf("first Create() error = %v", err)
	}
	_, err := r.Create("")
	if apierrors.KindOf(err) != apierrors.CapacityExhausted {
		t.Fatalf("second Create() over capacity: got %v, want capacity_exhausted", err)
	}
}

func TestGetOrCreateReturnsExistingSessionAndTouchesIt(t *testing.T) {
	r := New(10, time.Hour, testPreset(), 0)
	defer r.Close()

	first, err := r.GetOrCreate("my-handle", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := r.GetOrCreate("my-handle", "")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if first != second {
		t.Error("GetOrCreate() with the same handle should return the same *Session")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	r := New(10, time.Hour, testPreset(), 0)
	defer r.Close()

	s, _ := r.Create("")
	if !r.Delete(s.Handle) {
		t.Fatal("Delete() of an existing handle should return true")
	}
	if r.Delete(s.Handle) {
		t.Error("Delete() of an already-deleted handle should return false")
	}
}

func TestDeleteThenCookiesLookupMisses(t *testing.T) {
	r := New(10, time.Hour, testPreset(), 0)
	defer r.Close()

	s, _ := r.Create("")
	r.Delete(s.Handle)

	if _, ok := r.Cookies(s.Handle); ok {
		t.Error("Cookies() should miss for a deleted session")
	}
}

func TestSweepEvictsExpiredSessions(t *testing.T) {
	r := New(10, time.Millisecond, testPreset(), 0)
	defer r.Close()

	s, _ := r.Create("")
	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.sweepLocked()
	r.mu.Unlock()

	if _, ok := r.Get(s.Handle); ok {
		t.Error("sweepLocked() should have evicted a session past its TTL")
	}
}

func TestSweepSkipsSessionHoldingItsToken(t *testing.T) {
	r := New(10, time.Millisecond, testPreset(), 0)
	defer r.Close()

	s, _ := r.Create("")
	s.Lock()
	defer s.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.sweepLocked()
	r.mu.Unlock()

	if _, ok := r.Get(s.Handle); !ok {
		t.Error("sweepLocked() should skip a session whose token is held")
	}
}

func TestSweepIntervalFloorsAtTenSeconds(t *testing.T) {
	if got := sweepInterval(5 * time.Second); got != 10*time.Second {
		t.Errorf("sweepInterval(5s) = %v, want floored to 10s", got)
	}
	if got := sweepInterval(100 * time.Second); got != 10*time.Second {
		t.Errorf("sweepInterval(100s) = %v, want 10s", got)
	}
	if got := sweepInterval(1000 * time.Second); got != 100*time.Second {
		t.Errorf("sweepInterval(1000s) = %v, want 100s", got)
	}
}
