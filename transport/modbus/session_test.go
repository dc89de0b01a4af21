package modbus

import (
	"reflect"
	"testing"
)

func TestBytesWordsRoundTrip(t *testing.T) {
	words := []uint16{0x1234, 0xFFFF, 0}
	b := wordsToBytes(words)
	got := bytesToWords(b)
	if !reflect.DeepEqual(got, words) {
		t.Fatalf("got %v, want %v", got, words)
	}
}

func TestExecutorContextIdentity(t *testing.T) {
	a := NewExecutorContext()
	b := NewExecutorContext()
	if a == b {
		t.Fatalf("distinct contexts must not compare equal")
	}
	if a != a {
		t.Fatalf("a context must compare equal to itself")
	}
}

func TestFastFailVsLockedPortErrors(t *testing.T) {
	fastFail := errString("open /dev/ttyUSB0: no such file or directory")
	locked := errString("could not exclusively lock port /dev/ttyUSB0")

	if !isFastFailPortError(fastFail) {
		t.Fatalf("expected fast-fail classification")
	}
	if isFastFailPortError(locked) {
		t.Fatalf("locked-port error must not fast-fail")
	}
	if !isPortLockedError(locked) {
		t.Fatalf("expected port-locked classification")
	}
}

type errString string

func (e errString) Error() string { return string(e) }
