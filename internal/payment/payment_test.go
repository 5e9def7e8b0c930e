package payment

import (
	"context"
	"testing"
)

func TestNoopGatewayReportsConfiguredName(t *testing.T) {
	g := NewNoopGateway(BKash)
	result, err := g.Initiate(context.Background(), 1000, "topup-1")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if result.GatewayName != BKash {
		t.Fatalf("expected gateway name %s, got %s", BKash, result.GatewayName)
	}
	if result.RedirectURL == "" || result.GatewayExtID == "" {
		t.Fatal("expected non-empty redirect URL and external id")
	}
}

func TestNoopGatewayProducesUniqueExternalIDs(t *testing.T) {
	g := NewNoopGateway(Nagad)
	ctx := context.Background()
	first, err := g.Initiate(ctx, 500, "topup-a")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	second, err := g.Initiate(ctx, 500, "topup-b")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if first.GatewayExtID == second.GatewayExtID {
		t.Fatal("expected distinct external ids across calls")
	}
}
