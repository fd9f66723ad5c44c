package normalize

import (
	"reflect"
	"testing"
)

func TestTagsListRoundTrip(t *testing.T) {
	nt := Tags([]any{"Agent: Taylor.", "New Patient"})

	if nt.CSV != "Agent: Taylor., New Patient" {
		t.Fatalf("CSV = %q", nt.CSV)
	}
	if nt.Norm != ",agent: taylor.,new patient," {
		t.Fatalf("Norm = %q", nt.Norm)
	}
	if !reflect.DeepEqual(nt.Agents, []string{"Taylor"}) {
		t.Fatalf("Agents = %v", nt.Agents)
	}
}

func TestTagsVariants(t *testing.T) {
	cases := []struct {
		name     string
		in       any
		wantNorm string
	}{
		{"nil", nil, ",,"},
		{"empty list", []any{}, ",,"},
		{"string slice", []string{"A", " B "}, ",a,b,"},
		{"object list", []any{map[string]any{"name": "VIP"}, map[string]any{"label": "Follow Up"}}, ",vip,follow up,"},
		{"csv string", "One, Two", ",one,two,"},
		{"json array string", `["One","Two"]`, ",one,two,"},
		{"blank string", "  ", ",,"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Tags(tc.in).Norm; got != tc.wantNorm {
				t.Fatalf("Norm = %q, want %q", got, tc.wantNorm)
			}
		})
	}
}

func TestAgentTagExtraction(t *testing.T) {
	nt := Tags([]string{"agent:jane doe", "Agent: Bob.", "Not An Agent"})
	want := []string{"Jane Doe", "Bob"}
	if !reflect.DeepEqual(nt.Agents, want) {
		t.Fatalf("Agents = %v, want %v", nt.Agents, want)
	}
}

func TestNormForm(t *testing.T) {
	if got := NormForm(" New Patient "); got != ",new patient," {
		t.Fatalf("NormForm = %q", got)
	}
}
