package pricing

import (
	"context"
	"testing"
)

func TestStaticResolver_ProviderPriceWins(t *testing.T) {
	r := NewStaticResolver()
	r.SetBasePrice("10101012", 100)
	r.SetProviderPrice(ProviderKey{Kind: KindClinic, ID: 4}, "10101012", 120)

	price, ok, err := r.ExpectedPrice(context.Background(), "10101012", ProviderKey{Kind: KindClinic, ID: 4})
	if err != nil || !ok {
		t.Fatalf("expected a price, got ok=%v err=%v", ok, err)
	}
	if price != 120 {
		t.Errorf("expected provider price 120, got %f", price)
	}
}

func TestStaticResolver_FallsBackToBase(t *testing.T) {
	r := NewStaticResolver()
	r.SetBasePrice("10101012", 100)

	price, ok, _ := r.ExpectedPrice(context.Background(), "10101012", ProviderKey{Kind: KindProfessional, ID: 9})
	if !ok || price != 100 {
		t.Errorf("expected base price 100, got ok=%v price=%f", ok, price)
	}
}

func TestStaticResolver_UnknownCode(t *testing.T) {
	r := NewStaticResolver()
	_, ok, err := r.ExpectedPrice(context.Background(), "99999999", ProviderKey{Kind: KindClinic, ID: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for unknown code")
	}
}
