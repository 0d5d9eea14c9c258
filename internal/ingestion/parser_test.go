package ingestion_test

import (
	"errors"
	"testing"

	"FundLedger/internal/event"
	"FundLedger/internal/ingestion"
)

func raw(data string) ingestion.RawMessage {
	return ingestion.RawMessage{Data: []byte(data)}
}

// ============================================================================
// Test: parse valid commands
// ============================================================================

func TestParseDepositRequest(t *testing.T) {
	data := `{
		"request_id": "req-1",
		"origin": "ethereum",
		"sequence": 42,
		"share_class": "550e8400-e29b-41d4-a716-446655440000",
		"asset": 7,
		"investor": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"amount": 1000000
	}`
	cmd, err := ingestion.ParseRawMessage(raw(data), "request_deposit")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	dep, ok := cmd.(*event.DepositRequest)
	if !ok {
		t.Fatalf("got %T, want *event.DepositRequest", cmd)
	}
	if dep.Amount != 1000000 || dep.Asset != 7 {
		t.Errorf("fields: %+v", dep)
	}
	if cmd.Kind() != "request_deposit" {
		t.Errorf("kind: got %q", cmd.Kind())
	}
	if cmd.Origin() != "ethereum" || cmd.SourceSequence() != 42 {
		t.Errorf("meta: origin=%q seq=%d", cmd.Origin(), cmd.SourceSequence())
	}
	if cmd.IdempotencyKey() != "req-1" {
		t.Errorf("idempotency key: got %q", cmd.IdempotencyKey())
	}
}

func TestParseClaimDeposit_MaxClaims(t *testing.T) {
	data := `{
		"request_id": "req-2",
		"origin": "base",
		"sequence": 1,
		"share_class": "550e8400-e29b-41d4-a716-446655440000",
		"asset": 7,
		"investor": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"max_claims": 5
	}`
	cmd, err := ingestion.ParseRawMessage(raw(data), "claim_deposit")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	claim, ok := cmd.(*event.ClaimDeposit)
	if !ok {
		t.Fatalf("got %T, want *event.ClaimDeposit", cmd)
	}
	if claim.MaxClaims != 5 {
		t.Errorf("max claims: got %d, want 5", claim.MaxClaims)
	}
}

func TestParseRegisterAsset(t *testing.T) {
	data := `{
		"request_id": "req-3",
		"origin": "ethereum",
		"sequence": 0,
		"asset": 7,
		"symbol": "USDC",
		"decimals": 6
	}`
	cmd, err := ingestion.ParseRawMessage(raw(data), "register_asset")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg, ok := cmd.(*event.RegisterAsset)
	if !ok {
		t.Fatalf("got %T, want *event.RegisterAsset", cmd)
	}
	if reg.Symbol != "USDC" || reg.Decimals != 6 {
		t.Errorf("fields: %+v", reg)
	}
}

// ============================================================================
// Test: rejection paths
// ============================================================================

func TestParse_MissingRequestID(t *testing.T) {
	data := `{
		"origin": "ethereum",
		"sequence": 1,
		"share_class": "550e8400-e29b-41d4-a716-446655440000",
		"asset": 7,
		"investor": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"amount": 100
	}`
	if _, err := ingestion.ParseRawMessage(raw(data), "request_deposit"); !errors.Is(err, ingestion.ErrMissingRequestID) {
		t.Errorf("expected ErrMissingRequestID, got %v", err)
	}
}

func TestParse_BadUUID(t *testing.T) {
	data := `{
		"request_id": "req-4",
		"origin": "ethereum",
		"sequence": 1,
		"share_class": "not-a-uuid",
		"asset": 7,
		"investor": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	}`
	if _, err := ingestion.ParseRawMessage(raw(data), "cancel_deposit"); err == nil {
		t.Error("expected parse error for bad share_class uuid")
	}
}

func TestParse_MalformedJSON(t *testing.T) {
	if _, err := ingestion.ParseRawMessage(raw(`{not json`), "request_redeem"); err == nil {
		t.Error("expected parse error for malformed JSON")
	}
}

func TestParse_UnknownKind(t *testing.T) {
	if _, err := ingestion.ParseRawMessage(raw(`{}`), "transfer_shares"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

// ============================================================================
// Test: dedup key composition
// ============================================================================

func TestDedupKey_IncludesKind(t *testing.T) {
	base := `{
		"request_id": "req-9",
		"origin": "ethereum",
		"sequence": 1,
		"share_class": "550e8400-e29b-41d4-a716-446655440000",
		"asset": 7,
		"investor": "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa",
		"amount": 100
	}`
	dep, err := ingestion.ParseRawMessage(raw(base), "request_deposit")
	if err != nil {
		t.Fatalf("parse deposit: %v", err)
	}
	red, err := ingestion.ParseRawMessage(raw(base), "request_redeem")
	if err != nil {
		t.Fatalf("parse redeem: %v", err)
	}
	if event.DedupKey(dep) == event.DedupKey(red) {
		t.Error("same request id on different kinds must not collide")
	}
}
