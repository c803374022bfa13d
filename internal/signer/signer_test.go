package signer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testKey         = "0101010101010101010101010101010101010101010101010101010101010101"
	testMediaHash   = "0000000000000000000000000000000000000000000000000000000000000000"
	testPayloadHash = "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	testTimestamp   = int64(1700000000000)
)

func TestNewDerivesCompressedPublicKey(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	defer s.Close()

	pub := s.PublicKey()
	require.Len(t, pub, 66, "compressed public key is 33 bytes hex")
	require.True(t, strings.HasPrefix(pub, "02") || strings.HasPrefix(pub, "03"))
}

func TestNewRejectsBadKeys(t *testing.T) {
	cases := []string{
		"",
		"01",
		strings.Repeat("zz", 32),
		strings.Repeat("01", 31),
		strings.Repeat("01", 33),
	}
	for _, key := range cases {
		_, err := New(key)
		require.Error(t, err, "key %q", key)
	}
}

func TestSignDeterministic(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	defer s.Close()

	first, err := s.Sign(testMediaHash, testPayloadHash, testTimestamp)
	require.NoError(t, err)
	require.Len(t, first, 128, "compact signature is 64 bytes hex")

	second, err := s.Sign(testMediaHash, testPayloadHash, testTimestamp)
	require.NoError(t, err)
	require.Equal(t, first, second, "RFC 6979 signing must be deterministic")
}

func TestSignVerifyRoundTrip(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	defer s.Close()

	sig, err := s.Sign(testMediaHash, testPayloadHash, testTimestamp)
	require.NoError(t, err)

	require.True(t, Verify(s.PublicKey(), testMediaHash, testPayloadHash, testTimestamp, sig))
}

func TestVerifyRejectsTampering(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	defer s.Close()

	sig, err := s.Sign(testMediaHash, testPayloadHash, testTimestamp)
	require.NoError(t, err)
	pub := s.PublicKey()

	// Flip the last hex character of the signature.
	last := sig[len(sig)-1]
	flip := byte('0')
	if last == '0' {
		flip = '1'
	}
	tampered := sig[:len(sig)-1] + string(flip)
	require.False(t, Verify(pub, testMediaHash, testPayloadHash, testTimestamp, tampered))

	// Any single change in the message fails too.
	otherHash := "1" + testMediaHash[1:]
	require.False(t, Verify(pub, otherHash, testPayloadHash, testTimestamp, sig))
	require.False(t, Verify(pub, testMediaHash, testPayloadHash, testTimestamp+1, sig))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)
	defer s.Close()

	other, err := New(strings.Repeat("02", 32))
	require.NoError(t, err)
	defer other.Close()

	sig, err := s.Sign(testMediaHash, testPayloadHash, testTimestamp)
	require.NoError(t, err)
	require.False(t, Verify(other.PublicKey(), testMediaHash, testPayloadHash, testTimestamp, sig))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	require.False(t, Verify("not-hex", testMediaHash, testPayloadHash, testTimestamp, "also-not-hex"))
	require.False(t, Verify("02"+strings.Repeat("00", 32), testMediaHash, testPayloadHash, testTimestamp, strings.Repeat("00", 64)))
}

func TestSignAfterCloseFails(t *testing.T) {
	s, err := New(testKey)
	require.NoError(t, err)

	s.Close()
	_, err = s.Sign(testMediaHash, testPayloadHash, testTimestamp)
	require.ErrorIs(t, err, ErrUnconfigured)
}

func TestHashBytes(t *testing.T) {
	// SHA-256 of the empty string is a fixed vector.
	require.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		HashBytes(nil))
}

func TestHashEqual(t *testing.T) {
	require.True(t, HashEqual("abcd", "abcd"))
	require.False(t, HashEqual("abcd", "abce"))
	require.False(t, HashEqual("abcd", "abcde"))
}
