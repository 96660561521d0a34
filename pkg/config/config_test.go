// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
api:
  port: 9000
  host: "127.0.0.1"
engine:
  session:
    max_tokens: 4096
    max_time: "10s"
  pinned:
    default_budget_tokens: 2000
    client_budgets:
      client-a: 5000
log:
  level: "debug"
`
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.Port != 9000 {
		t.Errorf("API.Port: got %d", cfg.API.Port)
	}
	if cfg.Engine.Session.MaxTokens != 4096 {
		t.Errorf("Engine.Session.MaxTokens: got %d", cfg.Engine.Session.MaxTokens)
	}
	if cfg.Engine.Pinned.ClientBudgets["client-a"] != 5000 {
		t.Errorf("Engine.Pinned.ClientBudgets: got %v", cfg.Engine.Pinned.ClientBudgets)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig("configs/does-not-exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
