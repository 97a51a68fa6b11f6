package preferences

import (
	"path/filepath"
	"strings"
	"testing"

	"sd_control_bot/entities"
)

func testDefaults() entities.UserPreferences {
	return entities.UserPreferences{
		Width:          1024,
		Height:         1024,
		Steps:          20,
		CfgScale:       7.0,
		SamplerName:    "Euler a",
		NegativePrompt: "lowres, bad anatomy",
	}
}

func newTestStore(t *testing.T, filePath string) Store {
	t.Helper()

	store, err := New(Config{
		FilePath: filePath,
		Defaults: testDefaults(),
	})
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	return store
}

func TestGet_CreatesWithDefaults(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "prefs.json"))

	record := store.Get("100")

	if record.MemberID != "100" {
		t.Errorf("MemberID = %q, want %q", record.MemberID, "100")
	}

	if record.Width != 1024 || record.Height != 1024 {
		t.Errorf("dimensions = %dx%d, want 1024x1024", record.Width, record.Height)
	}

	if record.SamplerName != "Euler a" {
		t.Errorf("SamplerName = %q, want %q", record.SamplerName, "Euler a")
	}
}

func TestSetResolution_PersistenceRoundTrip(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "prefs.json")

	store := newTestStore(t, filePath)

	if err := store.SetResolution("100", 832, 1216); err != nil {
		t.Fatalf("SetResolution() error = %v, want nil", err)
	}

	// A fresh store instance reading the same backing file sees the change.
	reloaded := newTestStore(t, filePath)

	record := reloaded.Get("100")
	if record.Width != 832 || record.Height != 1216 {
		t.Errorf("reloaded dimensions = %dx%d, want 832x1216", record.Width, record.Height)
	}

	// Other members are unaffected.
	other := reloaded.Get("200")
	if other.Width != 1024 || other.Height != 1024 {
		t.Errorf("other member dimensions = %dx%d, want defaults", other.Width, other.Height)
	}
}

func TestSetResolution_Invalid(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "prefs.json"))

	if err := store.SetResolution("100", 0, 512); err == nil {
		t.Error("SetResolution(0, 512) error = nil, want error")
	}
}

func TestNegativePrompt_SetAndReset(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "prefs.json"))

	if err := store.SetNegativePrompt("100", "text, watermark"); err != nil {
		t.Fatalf("SetNegativePrompt() error = %v, want nil", err)
	}

	if got := store.Get("100").NegativePrompt; got != "text, watermark" {
		t.Errorf("NegativePrompt = %q, want %q", got, "text, watermark")
	}

	store.ResetNegativePrompt("100")

	if got := store.Get("100").NegativePrompt; got != testDefaults().NegativePrompt {
		t.Errorf("NegativePrompt after reset = %q, want default", got)
	}
}

func TestSetNegativePrompt_TooLong(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "prefs.json"))

	if err := store.SetNegativePrompt("100", strings.Repeat("x", 1001)); err == nil {
		t.Error("SetNegativePrompt(1001 chars) error = nil, want error")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "prefs.json"))

	record := store.Get("100")
	record.Width = 1

	if store.Get("100").Width != 1024 {
		t.Error("mutating a returned record leaked into the store")
	}
}
