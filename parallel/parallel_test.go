package parallel

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestForEachVisitsAll(t *testing.T) {
	p := New(4)
	seen := make([]int32, 100)
	if err := p.ForEach(len(seen), func(i int) error {
		atomic.AddInt32(&seen[i], 1)
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	for i, v := range seen {
		if v != 1 {
			t.Fatalf("单元 %d 执行了 %d 次", i, v)
		}
	}
}

func TestForEachLimit(t *testing.T) {
	p := New(2)
	var running, peak int32
	_ = p.ForEach(50, func(int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		atomic.AddInt32(&running, -1)
		return nil
	})
	if peak > 2 {
		t.Errorf("并发峰值 %d 超过限制 2", peak)
	}
}

func TestForEachError(t *testing.T) {
	want := errors.New("boom")
	err := New(3).ForEach(10, func(i int) error {
		if i == 7 {
			return want
		}
		return nil
	})
	if !errors.Is(err, want) {
		t.Errorf("ForEach 错误 = %v", err)
	}
}

func TestMapOrder(t *testing.T) {
	got := Map(New(3), 20, func(i int) int { return i * i })
	for i, v := range got {
		if v != i*i {
			t.Fatalf("Map[%d] = %d", i, v)
		}
	}
	if len(Map(New(0), 0, func(int) int { return 1 })) != 0 {
		t.Errorf("空输入应返回空结果")
	}
}
