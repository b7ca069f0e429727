package wire

import (
	"bytes"
	"testing"
)

func TestScrambleEmptyPassword(t *testing.T) {
	challenge := bytes.Repeat([]byte{0x01}, 20)
	got := Scramble(nil, challenge)
	if len(got) != 0 {
		t.Errorf("Scramble(empty password) = %x, want zero-length", got)
	}
}

func TestScrambleIsDeterministic(t *testing.T) {
	challenge := bytes.Repeat([]byte{0x7a}, 20)
	a := Scramble([]byte("hunter2"), challenge)
	b := Scramble([]byte("hunter2"), challenge)
	if !bytes.Equal(a, b) {
		t.Error("Scramble produced different output for identical inputs")
	}
}

func TestScrambleLength(t *testing.T) {
	challenge := bytes.Repeat([]byte{0x03}, 20)
	got := Scramble([]byte("s3cret"), challenge)
	if len(got) != 20 {
		t.Errorf("len(Scramble(...)) = %d, want 20", len(got))
	}
}

func TestScrambleDiffersByPassword(t *testing.T) {
	challenge := bytes.Repeat([]byte{0x09}, 20)
	a := Scramble([]byte("password1"), challenge)
	b := Scramble([]byte("password2"), challenge)
	if bytes.Equal(a, b) {
		t.Error("distinct passwords produced the same scramble")
	}
}

func TestScrambleDiffersByChallenge(t *testing.T) {
	pw := []byte("s3cret")
	a := Scramble(pw, bytes.Repeat([]byte{0x01}, 20))
	b := Scramble(pw, bytes.Repeat([]byte{0x02}, 20))
	if bytes.Equal(a, b) {
		t.Error("distinct challenges produced the same scramble")
	}
}
