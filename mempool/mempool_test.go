package mempool

import (
	"bytes"
	"testing"
)

func TestMemPool(t *testing.T) {
	const minMemSize = 64
	pool := New(minMemSize, 1024*64)
	for i := 0; i < 1024*128; i += 7 {
		buf := pool.Malloc(i)
		if len(buf) != i {
			t.Fatalf("invalid length: %v != %v", len(buf), i)
		}
		pool.Free(buf)
	}
	if n := pool.Outstanding(); n != 0 {
		t.Fatalf("outstanding buffers: %v", n)
	}
}

func TestMemPoolAppend(t *testing.T) {
	pool := New(16, 1024)
	var buf []byte
	want := []byte{}
	for i := 0; i < 100; i++ {
		buf = pool.Append(buf, byte(i))
		buf = pool.AppendString(buf, "x")
		want = append(want, byte(i), 'x')
	}
	if !bytes.Equal(buf, want) {
		t.Fatalf("append mismatch: %v != %v", buf, want)
	}
	pool.Free(buf)
}

func TestRealloc(t *testing.T) {
	pool := New(16, 1024)
	buf := pool.Malloc(8)
	copy(buf, "abcdefgh")
	buf = pool.Realloc(buf, 512)
	if len(buf) != 512 || string(buf[:8]) != "abcdefgh" {
		t.Fatalf("realloc lost data: %q", buf[:8])
	}
	pool.Free(buf)
}
