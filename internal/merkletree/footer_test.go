package merkletree

import "testing"

func TestFooterRoundTrip(t *testing.T) {
	f := Footer{
		ChunkSize:  1 << 20,
		TotalSize:  3 * (1 << 20),
		BitsetSize: 12,
		TreeDigest: HashChunk([]byte("some tree bytes")),
	}

	decoded, err := DecodeFooter(f.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !f.Equal(decoded) {
		t.Fatalf("round-trip mismatch: %+v != %+v", f, decoded)
	}
}

func TestFooterRejectsBadMagic(t *testing.T) {
	f := Footer{ChunkSize: 1 << 20, TotalSize: 1 << 20}
	buf := f.Encode()
	buf[0] ^= 0xff
	if _, err := DecodeFooter(buf); err == nil {
		t.Fatal("expected error for corrupted magic")
	}
}

func TestFooterRejectsWrongLength(t *testing.T) {
	if _, err := DecodeFooter(make([]byte, FooterSize-1)); err == nil {
		t.Fatal("expected error for short footer buffer")
	}
}

func TestFooterRejectsBadVersion(t *testing.T) {
	f := Footer{ChunkSize: 1 << 20, TotalSize: 1 << 20}
	buf := f.Encode()
	buf[4] = 0xff
	if _, err := DecodeFooter(buf); err == nil {
		t.Fatal("expected error for unsupported version")
	}
}
