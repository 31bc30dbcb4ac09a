package latest

import (
	"sync"
	"testing"
	"time"

	"github.com/NotCoffee418/sky_sensor_logger/pkg/types"
)

func TestEmptyStore(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	if !snap.Empty() {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	if snap.Updates != 0 {
		t.Errorf("expected 0 updates, got %d", snap.Updates)
	}
}

func TestUpdateOnlyTouchesOwnClass(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newStoreWithClock(func() time.Time { return fixed })

	s.Update(types.Hygro{TemperatureC: 20, RelativeHumidityPct: 50})
	snap := s.Snapshot()
	if snap.Hygro == nil || snap.Light != nil || snap.Thermal != nil {
		t.Fatalf("expected only hygro to be set, got %+v", snap)
	}
	if snap.Hygro.DewPointC == nil {
		t.Error("expected dew point to be derived")
	}
	if !snap.HygroUpdatedAt.Equal(fixed) {
		t.Errorf("expected updated at %v, got %v", fixed, snap.HygroUpdatedAt)
	}

	s.Update(types.Thermal{Center: -12})
	s.Update(types.Light{RawFull: 0xFFFF, RawIR: 0xFFFF, Gain: types.GainLow, Integration: 100, Lux: types.LuxOverflow})
	s.Update(types.Hygro{TemperatureC: 10, RelativeHumidityPct: 0})

	snap = s.Snapshot()
	if snap.Thermal == nil || snap.Thermal.Center != -12 {
		t.Errorf("thermal not preserved: %+v", snap.Thermal)
	}
	if snap.Light == nil || snap.Light.LuxDisplay != "overflow" {
		t.Errorf("light not preserved: %+v", snap.Light)
	}
	if snap.Hygro.TemperatureC != 10 || snap.Hygro.DewPointC != nil {
		t.Errorf("expected new hygro without dew point, got %+v", snap.Hygro)
	}
	if snap.Updates != 4 {
		t.Errorf("expected 4 updates, got %d", snap.Updates)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	s.Update(types.Thermal{Center: 1})
	snap := s.Snapshot()
	snap.Thermal.Center = 99

	if got := s.Snapshot().Thermal.Center; got != 1 {
		t.Errorf("mutating a snapshot changed the store: %v", got)
	}
}

func TestSnapshotNeverTorn(t *testing.T) {
	s := NewStore()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			v := float64(i)
			s.Update(types.Hygro{TemperatureC: v, RelativeHumidityPct: v})
			s.Update(types.Thermal{TopLeft: v, TopRight: v, BottomLeft: v, BottomRight: v, Center: v})
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				snap := s.Snapshot()
				if h := snap.Hygro; h != nil && h.TemperatureC != h.RelativeHumidityPct {
					t.Errorf("torn hygro: %+v", h.Hygro)
					return
				}
				if th := snap.Thermal; th != nil {
					if th.TopLeft != th.TopRight || th.TopRight != th.BottomLeft ||
						th.BottomLeft != th.BottomRight || th.BottomRight != th.Center {
						t.Errorf("torn thermal: %+v", *th)
						return
					}
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
}

func TestSnapshotJsonRoundTrip(t *testing.T) {
	s := NewStore()
	s.Update(types.Hygro{TemperatureC: 21.5, RelativeHumidityPct: 40})

	got := SnapshotFromJsonBytes(s.Snapshot().ToJsonBytes())
	if got == nil || got.Hygro == nil {
		t.Fatal("expected snapshot with hygro")
	}
	if got.Hygro.TemperatureC != 21.5 || got.Light != nil {
		t.Errorf("unexpected decoded snapshot: %+v", got)
	}
	if SnapshotFromJsonBytes([]byte("not json")) != nil {
		t.Error("expected nil for invalid payload")
	}
}
