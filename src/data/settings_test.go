package data

import "testing"

// TestGetSettingBeforeLoad: reads against an unloaded cache must not panic
// and must fall through to empty, letting config env fallbacks apply.
func TestGetSettingBeforeLoad(t *testing.T) {
	settingsMu.Lock()
	settingsCache = nil
	settingsMu.Unlock()

	if v := GetSetting("banned_terms"); v != "" {
		t.Errorf("unloaded cache returned %q, want empty", v)
	}
}

func TestGetSetting(t *testing.T) {
	settingsMu.Lock()
	settingsCache = map[string]string{"dwell_timeout": "5m"}
	settingsMu.Unlock()

	if v := GetSetting("dwell_timeout"); v != "5m" {
		t.Errorf("GetSetting = %q, want 5m", v)
	}
	if v := GetSetting("missing"); v != "" {
		t.Errorf("missing key returned %q, want empty", v)
	}
}
