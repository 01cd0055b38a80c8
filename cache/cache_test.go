package cache

import (
	"fmt"
	"sync"
	"testing"

	"npag/types"
)

func TestGetPut(t *testing.T) {
	c := New()
	p := types.ParameterVector{0.1, 20}
	if _, ok := c.Get("1", p); ok {
		t.Fatalf("空缓存不应命中")
	}
	c.Put("1", p, types.Prediction{Values: []float64{1, 2}})
	got, ok := c.Get("1", types.ParameterVector{0.1, 20})
	if !ok || got.Values[1] != 2 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := c.Get("2", p); ok {
		t.Errorf("不同受试者不应命中")
	}
	p[0] = 0.2 // 写入后修改调用方切片不影响缓存键
	if _, ok := c.Get("1", types.ParameterVector{0.1, 20}); !ok {
		t.Errorf("缓存应保存参数副本")
	}
}

func TestRetain(t *testing.T) {
	c := New()
	a, b := types.ParameterVector{1}, types.ParameterVector{2}
	for _, id := range []string{"x", "y"} {
		c.Put(id, a, types.Prediction{Values: []float64{1}})
		c.Put(id, b, types.Prediction{Values: []float64{2}})
	}
	if removed := c.Retain([]types.ParameterVector{b}); removed != 2 {
		t.Errorf("Retain 删除 %d 条, 期望 2", removed)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, 期望 2", c.Len())
	}
	if _, ok := c.Get("x", a); ok {
		t.Errorf("被淘汰的点仍然命中")
	}
	if removed := c.Retain(nil); removed != 2 || c.Len() != 0 {
		t.Errorf("Retain(nil) 删除 %d 条, 剩余 %d", removed, c.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				p := types.ParameterVector{float64(i)}
				id := fmt.Sprint(g)
				c.Put(id, p, types.Prediction{Values: []float64{float64(i)}})
				if got, ok := c.Get(id, p); !ok || got.Values[0] != float64(i) {
					t.Errorf("并发读写不一致: %v %v", got, ok)
					return
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() != 8*200 {
		t.Errorf("Len = %d", c.Len())
	}
}
