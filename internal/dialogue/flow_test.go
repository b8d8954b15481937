package dialogue

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/teslaelectricidad/teslabot/internal/catalog"
)

func TestLoadFlow(t *testing.T) {
	flow, err := LoadFlow()
	if err != nil {
		t.Fatalf("LoadFlow() error = %v", err)
	}

	want := []string{
		"greeting", "service_identification", "specification_gathering",
		"quotation", "data_collection", "confirmation", "closing",
	}
	got := flow.StageIDs()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("StageIDs() = %v, want %v", got, want)
	}
	if flow.Start != "greeting" || flow.Fallback != "closing" {
		t.Errorf("start/fallback = %q/%q", flow.Start, flow.Fallback)
	}
	if err := flow.CheckTopics(catalog.MustLoad()); err != nil {
		t.Errorf("CheckTopics() error = %v", err)
	}
}

func TestLoadFlow_EveryServiceHasQuestions(t *testing.T) {
	flow, err := LoadFlow()
	if err != nil {
		t.Fatalf("LoadFlow() error = %v", err)
	}
	stage, ok := flow.Stage("specification_gathering")
	if !ok {
		t.Fatal("specification_gathering missing")
	}
	for _, key := range catalog.MustLoad().Keys() {
		if len(stage.QuestionsFor(key)) == 0 {
			t.Errorf("no questions for service %q", key)
		}
	}
}

func TestLoadFlow_TemplatesUseKnownPlaceholders(t *testing.T) {
	flow, err := LoadFlow()
	if err != nil {
		t.Fatalf("LoadFlow() error = %v", err)
	}

	known := map[string]bool{
		"saludo": true, "whatsapp_link": true, "servicio": true,
		"servicio_nombre": true, "descripcion": true, "desde": true, "unidad": true,
		"min": true, "max": true, "tiempo": true, "riesgo": true,
		"precio_punto": true, "total": true, "visitas": true,
	}
	for i := range flow.Stages {
		for _, qs := range flow.Stages[i].Questions {
			for _, q := range qs {
				known[q.Field] = true
			}
		}
	}

	var texts []string
	collect := func(r Response) {
		texts = append(texts, r.Text)
		texts = append(texts, r.Candidates...)
		for _, v := range r.Keyed {
			texts = append(texts, v)
		}
	}
	collect(flow.Welcome)
	collect(flow.Handoff)
	for i := range flow.Stages {
		s := &flow.Stages[i]
		collect(s.Prompt)
		collect(s.Acknowledge)
		collect(s.Response)
	}

	for _, text := range texts {
		for _, name := range Placeholders(text) {
			if !known[name] {
				t.Errorf("unknown placeholder {%s} in %q", name, text)
			}
		}
	}
}

func TestParseFlow_Normalizes(t *testing.T) {
	flow, err := ParseFlow([]byte(`
start: a
fallback: a
stages:
  - id: a
    triggers: [Sí, "  Claro   Que SI "]
    aliases:
      "No Gracias": "NO"
      ok: si
      "ahora no": "no"
    next: a
`))
	if err != nil {
		t.Fatalf("ParseFlow() error = %v", err)
	}
	s, _ := flow.Stage("a")

	if s.Triggers[0] != "si" || s.Triggers[1] != "claro que si" {
		t.Errorf("Triggers = %q", s.Triggers)
	}
	if s.Aliases["no gracias"] != "no" {
		t.Errorf("Aliases = %v", s.Aliases)
	}
	want := []string{"no gracias", "ahora no", "ok"}
	if strings.Join(s.aliasOrder, "|") != strings.Join(want, "|") {
		t.Errorf("aliasOrder = %q, want %q", s.aliasOrder, want)
	}
}

func TestParseFlow_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "no stages",
			doc:     "start: a\nfallback: a\n",
			wantErr: "no stages",
		},
		{
			name:    "unknown start",
			doc:     "start: x\nfallback: a\nstages:\n  - {id: a, next: a}\n",
			wantErr: `start stage "x"`,
		},
		{
			name:    "unknown fallback",
			doc:     "start: a\nfallback: x\nstages:\n  - {id: a, next: a}\n",
			wantErr: `fallback stage "x"`,
		},
		{
			name:    "duplicate id",
			doc:     "start: a\nfallback: a\nstages:\n  - {id: a, next: a}\n  - {id: a, next: a}\n",
			wantErr: "duplicate stage",
		},
		{
			name:    "missing next",
			doc:     "start: a\nfallback: a\nstages:\n  - {id: a}\n",
			wantErr: "missing next",
		},
		{
			name:    "unknown next",
			doc:     "start: a\nfallback: a\nstages:\n  - {id: a, next: b}\n",
			wantErr: `next stage "b"`,
		},
		{
			name:    "unknown route",
			doc:     "start: a\nfallback: a\nstages:\n  - {id: a, next: a, routes: {x: b}}\n",
			wantErr: `unknown stage "b"`,
		},
		{
			name: "choice without choices",
			doc: `start: a
fallback: a
stages:
  - id: a
    next: a
    questions:
      default:
        - {field: f, prompt: "?", kind: choice}
`,
			wantErr: "has no choices",
		},
		{
			name: "unknown kind",
			doc: `start: a
fallback: a
stages:
  - id: a
    next: a
    questions:
      default:
        - {field: f, prompt: "?", kind: date}
`,
			wantErr: "unknown kind",
		},
		{
			name: "passthrough collecting",
			doc: `start: a
fallback: a
stages:
  - id: a
    next: a
    passthrough: true
    questions:
      default:
        - {field: f, prompt: "?"}
`,
			wantErr: "passthrough",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFlow([]byte(tt.doc))
			if err == nil {
				t.Fatalf("ParseFlow() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ParseFlow() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFlow_CheckTopicsUnknownService(t *testing.T) {
	flow, err := ParseFlow([]byte(`
start: a
fallback: a
stages:
  - id: a
    next: a
    questions:
      solar:
        - {field: paneles, prompt: "?", kind: number}
`))
	if err != nil {
		t.Fatalf("ParseFlow() error = %v", err)
	}

	err = flow.CheckTopics(catalog.MustLoad())
	if err == nil || !strings.Contains(err.Error(), "a.solar") {
		t.Errorf("CheckTopics() error = %v, want unknown a.solar", err)
	}
}

func TestResponse_UnmarshalYAML(t *testing.T) {
	var doc struct {
		Scalar Response `yaml:"scalar"`
		Keyed  Response `yaml:"keyed"`
		List   Response `yaml:"list"`
		Empty  Response `yaml:"empty"`
	}
	err := yaml.Unmarshal([]byte(`
scalar: hola
keyed: {si: "sí", default: otro}
list: [uno, dos]
`), &doc)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if doc.Scalar.Text != "hola" {
		t.Errorf("Scalar = %+v", doc.Scalar)
	}
	if doc.Keyed.Keyed["si"] != "sí" || doc.Keyed.Keyed[DefaultKey] != "otro" {
		t.Errorf("Keyed = %+v", doc.Keyed)
	}
	if len(doc.List.Candidates) != 2 {
		t.Errorf("List = %+v", doc.List)
	}
	if !doc.Empty.IsZero() || doc.Scalar.IsZero() {
		t.Error("IsZero() mismatch")
	}
}
