package cache

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestQueryKey(t *testing.T) {
	base := "run-1:cells"

	t.Run("noParams", func(t *testing.T) {
		if got := QueryKey("run-1", "cells", nil); got != base {
			t.Fatalf("expected %q, got %q", base, got)
		}
	})

	t.Run("orderIndependent", func(t *testing.T) {
		a := url.Values{}
		a.Set("regime", "PlasticAdaptive")
		a.Set("limit", "10")
		b := url.Values{}
		b.Set("limit", "10")
		b.Set("regime", "PlasticAdaptive")

		key1 := QueryKey("run-1", "cells", a)
		key2 := QueryKey("run-1", "cells", b)
		if key1 != key2 {
			t.Fatalf("expected stable key, got %q vs %q", key1, key2)
		}
		if !strings.HasPrefix(key1, base+":") {
			t.Fatalf("expected key scoped to run, got %q", key1)
		}
	})

	t.Run("distinctValues", func(t *testing.T) {
		key1 := QueryKey("run-1", "cells", url.Values{"limit": {"10"}})
		key2 := QueryKey("run-1", "cells", url.Values{"limit": {"20"}})
		if key1 == key2 {
			t.Fatalf("expected different keys, got %q", key1)
		}
	})
}

func TestPlotKey(t *testing.T) {
	got := PlotKey("run-1", "axis-tbi", 20, "viridis")
	if want := "run-1:plot:axis-tbi:20:viridis"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestManager_Forget(t *testing.T) {
	m, err := NewManager(Config{PlotCacheSizeMB: 8, PlotTTL: time.Minute, QueryCacheSize: 16})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer m.Close()

	if err := m.SetPlot(PlotKey("run-1", "regimes", 0, "regimes"), []byte("png-1")); err != nil {
		t.Fatalf("SetPlot failed: %v", err)
	}
	if err := m.SetPlot(PlotKey("run-2", "regimes", 0, "regimes"), []byte("png-2")); err != nil {
		t.Fatalf("SetPlot failed: %v", err)
	}
	m.SetQuery(QueryKey("run-1", "regimes", nil), []byte("[]"))
	m.SetQuery(QueryKey("run-2", "regimes", nil), []byte("[]"))

	m.Forget("run-1")

	if _, ok := m.GetPlot(PlotKey("run-1", "regimes", 0, "regimes")); ok {
		t.Error("expected run-1 plot to be dropped")
	}
	if _, ok := m.GetQuery(QueryKey("run-1", "regimes", nil)); ok {
		t.Error("expected run-1 query to be dropped")
	}
	if data, ok := m.GetPlot(PlotKey("run-2", "regimes", 0, "regimes")); !ok || string(data) != "png-2" {
		t.Errorf("expected run-2 plot to survive, got %q %v", data, ok)
	}
	if _, ok := m.GetQuery(QueryKey("run-2", "regimes", nil)); !ok {
		t.Error("expected run-2 query to survive")
	}
}
