package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/nlazarev/pairsync/internal/model"
)

func TestCaption_KnownKindsDrawFromTheirPool(t *testing.T) {
	for _, kind := range model.Kinds {
		got := Caption(kind, "", "")
		if got == "" {
			t.Fatalf("empty caption for %s", kind)
		}
		found := false
		for _, c := range captions[kind] {
			if c == got {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("caption %q not from the %s pool", got, kind)
		}
	}
}

func TestCaption_UnknownKindFallsBackToCustom(t *testing.T) {
	got := Caption(model.ActivityKind("Juggling"), "", "")
	found := false
	for _, c := range captions[model.ActivityCustom] {
		if c == got {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("unknown kind did not fall back to the custom pool: %q", got)
	}
}

func TestWeather_DegradesToNilOnError(t *testing.T) {
	fetch := func(context.Context, *float64, *float64) (*model.WeatherInfo, error) {
		return nil, errors.New("service down")
	}
	if w := Weather(context.Background(), NoLocation, fetch); w != nil {
		t.Fatalf("expected nil weather on fetch error, got %+v", w)
	}
	if w := Weather(context.Background(), NoLocation, nil); w != nil {
		t.Fatalf("expected nil weather without a fetcher, got %+v", w)
	}
}

func TestWeather_LocatorFailureStillFetches(t *testing.T) {
	locate := func(context.Context) (*float64, *float64, error) {
		return nil, nil, errors.New("permission denied")
	}
	want := &model.WeatherInfo{Temp: 21, Condition: "Sunny", Icon: "☀️"}
	fetch := func(_ context.Context, lat, lon *float64) (*model.WeatherInfo, error) {
		if lat != nil || lon != nil {
			t.Fatalf("coordinates leaked from a failed locator")
		}
		return want, nil
	}
	if w := Weather(context.Background(), locate, fetch); w != want {
		t.Fatalf("got %+v, want %+v", w, want)
	}
}

func TestWeather_HonorsContextDeadline(t *testing.T) {
	fetch := func(ctx context.Context, _, _ *float64) (*model.WeatherInfo, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if w := Weather(ctx, NoLocation, fetch); w != nil {
		t.Fatalf("expected nil weather on cancelled context, got %+v", w)
	}
}

func TestSimulatedWeather_WithinConditionRange(t *testing.T) {
	for i := 0; i < 50; i++ {
		w, err := SimulatedWeather(context.Background(), nil, nil)
		if err != nil {
			t.Fatalf("SimulatedWeather: %v", err)
		}
		ok := false
		for _, c := range conditions {
			if w.Condition == c.name && w.Temp >= c.tempMin && w.Temp < c.tempMax {
				ok = true
				break
			}
		}
		if !ok {
			t.Fatalf("implausible weather: %+v", w)
		}
	}
}
