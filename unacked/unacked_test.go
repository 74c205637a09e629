package unacked

import (
	"sync"
	"testing"
)

func TestInsertGetRemove(t *testing.T) {
	tbl := New()
	tbl.Insert(5, Entry{Bytes: []byte("abc"), Length: 3})

	e, ok := tbl.Get(5)
	if !ok {
		t.Fatal("Get(5): ok = false, want true")
	}
	if string(e.Bytes) != "abc" || e.Length != 3 {
		t.Fatalf("Get(5) = %+v, want Bytes=abc Length=3", e)
	}

	if !tbl.Remove(5) {
		t.Fatal("Remove(5) = false, want true")
	}
	if _, ok := tbl.Get(5); ok {
		t.Fatal("Get(5) after Remove: ok = true, want false")
	}
	if tbl.Remove(5) {
		t.Fatal("second Remove(5) = true, want false")
	}
}

func TestScanGreaterThan(t *testing.T) {
	tbl := New()
	for _, seq := range []uint32{1, 5, 10, 20, 100} {
		tbl.Insert(seq, Entry{Length: int(seq)})
	}

	results := tbl.ScanGreaterThan(10)
	got := map[uint32]bool{}
	for _, r := range results {
		got[r.Sequence] = true
	}
	want := map[uint32]bool{20: true, 100: true}
	if len(got) != len(want) {
		t.Fatalf("ScanGreaterThan(10) returned %d entries, want %d (%v)", len(got), len(want), got)
	}
	for seq := range want {
		if !got[seq] {
			t.Errorf("ScanGreaterThan(10) missing sequence %d", seq)
		}
	}
	for seq := range got {
		if seq <= 10 {
			t.Errorf("ScanGreaterThan(10) wrongly included sequence %d", seq)
		}
	}
}

func TestScanMatching(t *testing.T) {
	tbl := New()
	tbl.Insert(1, Entry{Length: 4})  // acked by seq=5
	tbl.Insert(5, Entry{Length: 10}) // acked by seq=15
	tbl.Insert(8, Entry{Length: 2})  // acked by seq=10

	results := tbl.ScanMatching(func(seq uint32, e Entry) bool {
		return seq+uint32(e.Length) == 15
	})
	if len(results) != 1 || results[0].Sequence != 5 {
		t.Fatalf("ScanMatching(seq+length==15) = %+v, want exactly sequence 5", results)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(seq uint32) {
			defer wg.Done()
			tbl.Insert(seq, Entry{Length: int(seq)})
			tbl.Get(seq)
			tbl.Remove(seq)
		}(uint32(i))
	}
	wg.Wait()
	if n := tbl.Len(); n != 0 {
		t.Fatalf("Len() = %d after all inserts removed, want 0", n)
	}
}
