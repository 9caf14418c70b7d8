package signal

import (
	"reflect"
	"testing"

	"stockpit/internal/domain"
)

type namedStrategy struct {
	name string
}

func (s *namedStrategy) Name() string    { return s.name }
func (s *namedStrategy) MinCandles() int { return 1 }
func (s *namedStrategy) Evaluate(candles []domain.Candle) (*domain.Signal, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	s := &namedStrategy{name: "alpha"}
	r.Register(s)

	got, ok := r.Get("alpha")
	if !ok {
		t.Fatal("Get(alpha) not found")
	}
	if got != s {
		t.Error("Get returned a different strategy")
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) = found, want not found")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(&namedStrategy{name: "zeta"})
	r.Register(&namedStrategy{name: "alpha"})
	r.Register(&namedStrategy{name: "mid"})

	got := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first := &namedStrategy{name: "dup"}
	second := &namedStrategy{name: "dup"}
	r.Register(first)
	r.Register(second)

	got, _ := r.Get("dup")
	if got != second {
		t.Error("Register did not replace the earlier strategy")
	}
	if len(r.List()) != 1 {
		t.Errorf("List() has %d entries, want 1", len(r.List()))
	}
}
