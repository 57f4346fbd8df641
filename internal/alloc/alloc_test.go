package alloc

import (
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/flume/internal/device"
	"github.com/rzbill/flume/internal/epoch"
)

func newTestAllocator(t *testing.T, pageBits, memBits uint) (*Allocator, *epoch.Protector, *device.MemDevice) {
	t.Helper()
	p := epoch.New()
	dev := device.OpenMem(memBits)
	a, err := New(Options{
		PageSizeBits:    pageBits,
		MemorySizeBits:  memBits,
		SegmentSizeBits: memBits,
		MutableFraction: 0.5,
		Device:          dev,
		Epoch:           p,
	})
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, p, dev
}

// mustAllocate retries through Pending results, driving the epoch so flush
// and close shifts can progress.
func mustAllocate(t *testing.T, a *Allocator, p *epoch.Protector, size int64) int64 {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		g := p.Enter()
		r := a.TryAllocate(size)
		g.Exit()
		if r.Kind == KindReady {
			return r.Address
		}
		p.Drain()
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("allocation of %d bytes did not complete", size)
	return 0
}

func waitFlushed(t *testing.T, a *Allocator, p *epoch.Protector, target int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if a.FlushedUntilAddress() >= target {
			return
		}
		p.Drain()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("flushedUntil %d never reached %d", a.FlushedUntilAddress(), target)
}

func TestFirstAllocationAtFirstValidAddress(t *testing.T) {
	a, p, _ := newTestAllocator(t, 12, 15)
	if got := mustAllocate(t, a, p, 16); got != FirstValidAddress {
		t.Fatalf("first allocation at %d, want %d", got, FirstValidAddress)
	}
}

func TestSequentialAllocationsMonotonic(t *testing.T) {
	a, p, _ := newTestAllocator(t, 12, 15)
	prev := int64(0)
	for i := 0; i < 200; i++ {
		addr := mustAllocate(t, a, p, 24)
		if addr <= prev {
			t.Fatalf("allocation %d at %d, not above %d", i, addr, prev)
		}
		prev = addr
	}
	if tail := a.TailAddress(); tail <= prev {
		t.Fatalf("tail %d not past last allocation %d", tail, prev)
	}
}

func TestReservationsNeverStraddlePages(t *testing.T) {
	a, p, _ := newTestAllocator(t, 9, 12) // 512 B pages, 8-page ring
	const size = 60
	for i := 0; i < 100; i++ {
		addr := mustAllocate(t, a, p, size)
		off := addr & (a.PageSize() - 1)
		if off+size > a.PageSize() {
			t.Fatalf("reservation at %d (offset %d) straddles a page", addr, off)
		}
	}
}

func TestBoundaryOrdering(t *testing.T) {
	a, p, _ := newTestAllocator(t, 9, 12)
	for i := 0; i < 300; i++ {
		mustAllocate(t, a, p, 48)

		begin, head := a.BeginAddress(), a.HeadAddress()
		fu, sro := a.FlushedUntilAddress(), a.SafeReadOnlyAddress()
		ro, tail := a.ReadOnlyAddress(), a.TailAddress()
		if begin > head || head > fu || fu > sro || sro > ro || ro > tail {
			t.Fatalf("boundary order violated: begin=%d head=%d flushed=%d safeRO=%d ro=%d tail=%d",
				begin, head, fu, sro, ro, tail)
		}
	}
}

func TestRingReuseRequiresFlush(t *testing.T) {
	// 4-page ring; allocating far past the ring forces eviction of flushed
	// pages and reuse of their slots.
	a, p, _ := newTestAllocator(t, 9, 11)
	total := int64(0)
	for total < 8*a.PageSize() {
		mustAllocate(t, a, p, 64)
		total += 64
	}
	if a.HeadAddress() == FirstValidAddress {
		t.Fatalf("head never advanced despite ring pressure")
	}
}

func TestConcurrentAllocationsDisjoint(t *testing.T) {
	a, p, _ := newTestAllocator(t, 12, 16)
	const goroutines = 8
	const perG = 200
	const size = 32

	var mu sync.Mutex
	addrs := make([]int64, 0, goroutines*perG)

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			local := make([]int64, 0, perG)
			prev := int64(0)
			for j := 0; j < perG; j++ {
				deadline := time.Now().Add(5 * time.Second)
				for {
					g := p.Enter()
					r := a.TryAllocate(size)
					g.Exit()
					if r.Kind == KindReady {
						if r.Address <= prev {
							t.Errorf("addresses not increasing within goroutine: %d after %d", r.Address, prev)
						}
						prev = r.Address
						local = append(local, r.Address)
						break
					}
					p.Drain()
					runtime.Gosched()
					if time.Now().After(deadline) {
						t.Errorf("allocation stalled")
						return
					}
				}
			}
			mu.Lock()
			addrs = append(addrs, local...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for i := 1; i < len(addrs); i++ {
		if addrs[i] < addrs[i-1]+size {
			t.Fatalf("reservations overlap: %d then %d", addrs[i-1], addrs[i])
		}
	}
}

func TestFlushCallbackContiguous(t *testing.T) {
	p := epoch.New()
	dev := device.OpenMem(15)
	var mu sync.Mutex
	var seen []int64
	a, err := New(Options{
		PageSizeBits:    9,
		MemorySizeBits:  12,
		SegmentSizeBits: 15,
		MutableFraction: 0.5,
		Device:          dev,
		Epoch:           p,
		OnFlushed: func(until int64) {
			mu.Lock()
			seen = append(seen, until)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	defer a.Close()

	for i := 0; i < 50; i++ {
		mustAllocate(t, a, p, 100)
	}
	target := a.ShiftReadOnlyToTail()
	waitFlushed(t, a, p, target)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("flush callbacks not monotonic: %v", seen)
		}
	}
	if len(seen) == 0 || seen[len(seen)-1] != target {
		t.Fatalf("final flush callback %v, want %d", seen, target)
	}
}

func TestRestoreReloadsResidentRegion(t *testing.T) {
	p := epoch.New()
	dev := device.OpenMem(15)
	opts := Options{
		PageSizeBits:    9,
		MemorySizeBits:  12,
		SegmentSizeBits: 15,
		MutableFraction: 0.5,
		Device:          dev,
		Epoch:           p,
	}
	a, err := New(opts)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}

	payload := []byte("paged allocator restore")
	addr := mustAllocate(t, a, p, int64(len(payload)))
	g := p.Enter()
	a.WriteResident(addr, payload)
	g.Exit()

	target := a.ShiftReadOnlyToTail()
	waitFlushed(t, a, p, target)
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	p2 := epoch.New()
	opts.Epoch = p2
	b, err := New(opts)
	if err != nil {
		t.Fatalf("new allocator: %v", err)
	}
	defer b.Close()
	head := target &^ (b.PageSize() - 1)
	if head == 0 {
		head = FirstValidAddress
	}
	if err := b.Restore(FirstValidAddress, head, target); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := b.TailAddress(); got != target {
		t.Fatalf("restored tail %d, want %d", got, target)
	}
	if addr >= head {
		got := make([]byte, len(payload))
		g := p2.Enter()
		b.ReadResident(addr, got)
		g.Exit()
		if string(got) != string(payload) {
			t.Fatalf("restored payload %q, want %q", got, payload)
		}
	}
}
