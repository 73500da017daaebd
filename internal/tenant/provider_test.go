package tenant

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/replystack/commerce-bot/internal/model"
	"github.com/replystack/commerce-bot/pkg/logger"
)

func writeTenantsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tenants.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write tenants file: %v", err)
	}
	return path
}

func newTestProvider(t *testing.T, content string) *FileProvider {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	p, err := NewFileProvider(writeTenantsFile(t, content), log)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}
	return p
}

func TestFileProviderLoadsTenants(t *testing.T) {
	p := newTestProvider(t, `[
		{"id":"shop_b","active":true,"assistant_enabled":true},
		{"id":"shop_a","active":true},
		{"id":"dormant","active":false}
	]`)

	ids := p.ActiveTenants()
	if len(ids) != 2 || ids[0] != "shop_a" || ids[1] != "shop_b" {
		t.Errorf("active tenants = %v, want sorted [shop_a shop_b]", ids)
	}

	if _, err := p.Get("dormant"); err != nil {
		t.Errorf("inactive tenants must still resolve: %v", err)
	}
	if _, err := p.Get("ghost"); err == nil {
		t.Error("unknown tenant must error")
	}
}

func TestFileProviderNormalizesFixedResponseTriggers(t *testing.T) {
	p := newTestProvider(t, `[
		{"id":"shop","active":true,"fixed_responses":{"  PRICE? ":"See catalog"}}
	]`)

	tn, err := p.Get("shop")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	reply, ok := FixedResponse(tn, "price?")
	if !ok || reply != "See catalog" {
		t.Errorf("FixedResponse = %q, %v", reply, ok)
	}
	if _, ok := FixedResponse(tn, "something else"); ok {
		t.Error("non-trigger text matched")
	}
}

func TestFileProviderReloadPicksUpChanges(t *testing.T) {
	log, _ := logger.New("error")
	path := writeTenantsFile(t, `[{"id":"shop","active":true}]`)
	p, err := NewFileProvider(path, log)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}

	if err := os.WriteFile(path, []byte(`[{"id":"shop","active":true},{"id":"new","active":true}]`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := p.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if len(p.ActiveTenants()) != 2 {
		t.Errorf("active after reload = %v", p.ActiveTenants())
	}
}

func TestFileProviderReloadRejectsBrokenFile(t *testing.T) {
	log, _ := logger.New("error")
	path := writeTenantsFile(t, `[{"id":"shop","active":true}]`)
	p, err := NewFileProvider(path, log)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}

	os.WriteFile(path, []byte(`{broken`), 0o600)
	if err := p.Reload(); err == nil {
		t.Fatal("Reload must fail on malformed file")
	}
	// Previous snapshot stays live.
	if len(p.ActiveTenants()) != 1 {
		t.Errorf("snapshot lost after failed reload: %v", p.ActiveTenants())
	}
}

func TestFileProviderGetReturnsCopy(t *testing.T) {
	p := newTestProvider(t, `[{"id":"shop","active":true}]`)
	tn, _ := p.Get("shop")
	tn.Active = false

	again, _ := p.Get("shop")
	if !again.Active {
		t.Error("Get must return a copy isolated from the caller")
	}
}

func TestStaticProvider(t *testing.T) {
	p := NewStaticProvider(
		&model.Tenant{ID: "a", Active: true},
		&model.Tenant{ID: "b", Active: false},
	)
	if ids := p.ActiveTenants(); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("active = %v", ids)
	}
	if err := p.Reload(); err != nil {
		t.Errorf("Reload: %v", err)
	}
}
