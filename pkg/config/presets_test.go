package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPresets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.yaml")
	body := `bots:
  - type: grid
    symbol: ETHUSDT
    api_key: key
    api_secret: secret
    testnet: true
    parameters:
      asset_a_funds: 1000
      asset_b_funds: 0.5
      grids: 10
      deviation_threshold: 0.004
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	bots, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("load presets: %v", err)
	}
	if len(bots) != 1 || bots[0].Type != "grid" || bots[0].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected presets: %+v", bots)
	}
	if bots[0].Testnet == nil || !*bots[0].Testnet {
		t.Error("testnet flag not parsed")
	}

	raw, err := bots[0].ParamsJSON()
	if err != nil {
		t.Fatalf("params json: %v", err)
	}
	var params struct {
		Grids              int     `json:"grids"`
		DeviationThreshold float64 `json:"deviation_threshold"`
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if params.Grids != 10 || params.DeviationThreshold != 0.004 {
		t.Errorf("params = %+v", params)
	}
}

func TestLoadPresetsRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bots.yaml")
	if err := os.WriteFile(path, []byte("bots:\n  - symbol: ETHUSDT\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadPresets(path); err == nil {
		t.Fatal("preset without type accepted")
	}
}
