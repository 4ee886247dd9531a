package profiles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-live/pkg/core/live"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoad_Embedded(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := strings.Join(reg.Names(), ","); got != "inbound,outbound" {
		t.Fatalf("names=%q", got)
	}

	def := reg.ForRoute("")
	if def.Name != "inbound" {
		t.Fatalf("default profile=%q", def.Name)
	}
	if !strings.Contains(def.SystemInstruction, "inbound calls") {
		t.Fatalf("inbound instruction not loaded")
	}
	if def.OpeningTurn != OpeningTurn {
		t.Fatalf("opening turn=%q", def.OpeningTurn)
	}

	out := reg.ForRoute("/outbound")
	if out.Name != "outbound" || !strings.Contains(out.SystemInstruction, "outbound call") {
		t.Fatalf("outbound profile=%+v", out.Name)
	}
	if reg.ForRoute("/somewhere-else").Name != "inbound" {
		t.Fatalf("unknown route should fall back to default")
	}
	if reg.Default() != "inbound" {
		t.Fatalf("Default()=%q", reg.Default())
	}
	if p, ok := reg.Get("outbound"); !ok || len(p.Routes) != 1 || p.Routes[0] != "/outbound" {
		t.Fatalf("Get(outbound)=%+v ok=%v", p, ok)
	}
	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("Get(missing) should report false")
	}
}

func TestProfile_LiveConfig(t *testing.T) {
	reg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := reg.ForRoute("/outbound").LiveConfig()
	if cfg.Modality != live.ModalityAudio {
		t.Fatalf("modality=%q", cfg.Modality)
	}
	if cfg.Voice != "Charon" || !cfg.ProactiveAudio {
		t.Fatalf("voice=%q proactive=%v", cfg.Voice, cfg.ProactiveAudio)
	}
	td := cfg.TurnDetection
	if td.StartSensitivity != live.SensitivityLow || td.EndSensitivity != live.SensitivityLow {
		t.Fatalf("sensitivity=%+v", td)
	}
	if td.PrefixPadding != 100*time.Millisecond || td.SilenceDuration != time.Second {
		t.Fatalf("turn detection=%+v", td)
	}
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "support.md", "You are a support agent.")
	path := writeFile(t, dir, "profiles.yaml", `
default: support
profiles:
  support:
    routes: ["/support"]
    prompt: support.md
    voice: Puck
    proactive_audio: false
    opening_turn: "[Hello]"
    transcription:
      input: true
      output: true
  outbound:
    routes: ["/sales"]
    instruction: "Sell politely."
`)

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	sup := reg.ForRoute("")
	if sup.Name != "support" || sup.SystemInstruction != "You are a support agent." {
		t.Fatalf("default=%+v", sup)
	}
	if sup.Voice != "Puck" || sup.ProactiveAudio || sup.OpeningTurn != "[Hello]" {
		t.Fatalf("support=%+v", sup)
	}
	if !sup.InputTranscription || !sup.OutputTranscription {
		t.Fatalf("transcription not enabled")
	}

	if reg.ForRoute("/sales").Name != "outbound" {
		t.Fatalf("/sales should map to outbound")
	}
	if reg.ForRoute("/outbound").Name != "support" {
		t.Fatalf("/outbound route should be dropped by the override")
	}
	if reg.ForRoute("/sales").SystemInstruction != "Sell politely." {
		t.Fatalf("outbound instruction not overridden")
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing prompt":  "profiles:\n  x:\n    prompt: nope.md\n",
		"empty profile":   "profiles:\n  x:\n    voice: Puck\n",
		"unknown default": "default: ghost\n",
		"route conflict":  "profiles:\n  x:\n    routes: [\"/outbound\"]\n    instruction: hi\n",
		"bad yaml":        "profiles: [",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, strings.ReplaceAll(name, " ", "_")+".yaml", content)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(dir, "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing override file")
	}
}
