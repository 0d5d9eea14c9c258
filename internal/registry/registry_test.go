package registry_test

import (
	"errors"
	"testing"

	"FundLedger/internal/registry"

	"github.com/google/uuid"
)

var (
	admin = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	scID  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
)

func newRegistryWithPool(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry()
	if err := r.RegisterAsset(7, "USDC", 6, "ethereum"); err != nil {
		t.Fatalf("register asset: %v", err)
	}
	if err := r.CreatePool(1, admin, 7); err != nil {
		t.Fatalf("create pool: %v", err)
	}
	return r
}

// ============================================================================
// Test: assets
// ============================================================================

func TestRegisterAsset_Duplicate(t *testing.T) {
	r := newRegistryWithPool(t)
	if err := r.RegisterAsset(7, "USDC", 6, "polygon"); !errors.Is(err, registry.ErrAssetExists) {
		t.Errorf("expected ErrAssetExists, got %v", err)
	}
}

func TestAsset_Lookup(t *testing.T) {
	r := newRegistryWithPool(t)
	a, err := r.Asset(7)
	if err != nil {
		t.Fatalf("asset: %v", err)
	}
	if a.Symbol != "USDC" || a.Decimals != 6 || a.Origin != "ethereum" {
		t.Errorf("asset record: %+v", a)
	}
	if _, err := r.Asset(8); !errors.Is(err, registry.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

// ============================================================================
// Test: pools
// ============================================================================

func TestCreatePool_Duplicate(t *testing.T) {
	r := newRegistryWithPool(t)
	if err := r.CreatePool(1, admin, 7); !errors.Is(err, registry.ErrPoolExists) {
		t.Errorf("expected ErrPoolExists, got %v", err)
	}
}

func TestCreatePool_UnknownCurrency(t *testing.T) {
	r := registry.NewRegistry()
	if err := r.CreatePool(1, admin, 99); !errors.Is(err, registry.ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}

func TestCreatePool_AdminIsManager(t *testing.T) {
	r := newRegistryWithPool(t)
	if !r.IsManager(1, admin) {
		t.Error("pool admin should be a manager")
	}
	if r.IsManager(1, uuid.New()) {
		t.Error("random investor should not be a manager")
	}
}

// ============================================================================
// Test: share classes
// ============================================================================

func TestAddShareClass_ResolvesToPool(t *testing.T) {
	r := newRegistryWithPool(t)
	if err := r.AddShareClass(1, scID); err != nil {
		t.Fatalf("add share class: %v", err)
	}
	pool, err := r.ShareClassPool(scID)
	if err != nil || pool != 1 {
		t.Errorf("got (%d, %v), want (1, nil)", pool, err)
	}

	if err := r.AddShareClass(1, scID); !errors.Is(err, registry.ErrShareClassExists) {
		t.Errorf("expected ErrShareClassExists, got %v", err)
	}
	if _, err := r.ShareClassPool(uuid.New()); !errors.Is(err, registry.ErrShareClassUnknown) {
		t.Errorf("expected ErrShareClassUnknown, got %v", err)
	}
}

// ============================================================================
// Test: managers and metadata
// ============================================================================

func TestUpdateManager_GrantRevoke(t *testing.T) {
	r := newRegistryWithPool(t)
	delegate := uuid.New()

	r.UpdateManager(1, delegate, true)
	if !r.IsManager(1, delegate) {
		t.Error("delegate should be a manager after grant")
	}
	r.UpdateManager(1, delegate, false)
	if r.IsManager(1, delegate) {
		t.Error("delegate should not be a manager after revoke")
	}
}

func TestSetMetadata(t *testing.T) {
	r := newRegistryWithPool(t)
	if err := r.SetMetadata(1, []byte("fund A")); err != nil {
		t.Fatalf("set metadata: %v", err)
	}
	p, _ := r.Pool(1)
	if string(p.Metadata) != "fund A" {
		t.Errorf("metadata: got %q", p.Metadata)
	}
}

// ============================================================================
// Test: snapshot / restore
// ============================================================================

func TestSnapshotRestore_Registry(t *testing.T) {
	r := newRegistryWithPool(t)
	r.AddShareClass(1, scID)

	snap := r.Snapshot()
	delegate := uuid.New()
	r.UpdateManager(1, delegate, true)
	r.RegisterAsset(8, "DAI", 18, "ethereum")
	r.SetMetadata(1, []byte("changed"))

	r.Restore(snap)
	if r.IsManager(1, delegate) {
		t.Error("manager grant should roll back")
	}
	if _, err := r.Asset(8); err == nil {
		t.Error("asset registration should roll back")
	}
	p, _ := r.Pool(1)
	if len(p.Metadata) != 0 {
		t.Errorf("metadata should roll back, got %q", p.Metadata)
	}
	if pool, _ := r.ShareClassPool(scID); pool != 1 {
		t.Error("pre-snapshot share class should survive")
	}
}
