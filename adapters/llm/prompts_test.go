package llm

import (
	"strings"
	"testing"

	"github.com/aarambh/dispatch/server/domain/entities"
)

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, r entities.IncidentRecord)
	}{
		{
			name: "full record",
			raw:  `{"caller_name":"Jane","emergency_type":"medical","location":"5 Main St, Springfield","people_involved":2,"age_group":"senior","immediate_dangers":"Unconscious","medical_conditions":"Stroke","description":"collapsed"}`,
			check: func(t *testing.T, r entities.IncidentRecord) {
				if r.CallerName != "Jane" || r.PeopleInvolved != 2 || r.AgeGroup != entities.AgeGroupSenior {
					t.Errorf("unexpected record %+v", r)
				}
			},
		},
		{
			name: "missing keys fall back to defaults",
			raw:  `{"emergency_type":"fire"}`,
			check: func(t *testing.T, r entities.IncidentRecord) {
				if r.EmergencyType != entities.EmergencyTypeFire {
					t.Errorf("expected fire, got %s", r.EmergencyType)
				}
				if r.Location != entities.NotAvailable || r.PeopleInvolved != 1 {
					t.Errorf("expected defaults, got %+v", r)
				}
			},
		},
		{
			name: "fenced json with uppercase enum",
			raw:  "```json\n{\"emergency_type\":\"Police\"}\n```",
			check: func(t *testing.T, r entities.IncidentRecord) {
				if r.EmergencyType != entities.EmergencyTypePolice {
					t.Errorf("expected police, got %s", r.EmergencyType)
				}
			},
		},
		{name: "invalid enum", raw: `{"emergency_type":"earthquake"}`, wantErr: true},
		{name: "not json", raw: `the caller is at home`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, err := decodeRecord(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got record %+v", record)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, record)
		})
	}
}

func TestDecodeVerification(t *testing.T) {
	result, err := decodeVerification(`{"is_sufficient":false,"missing_fields":["location"," ","age_group"]}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsSufficient {
		t.Error("expected insufficient")
	}
	if len(result.MissingFields) != 2 || result.MissingFields[0] != "location" || result.MissingFields[1] != "age_group" {
		t.Errorf("unexpected missing fields %v", result.MissingFields)
	}

	if _, err := decodeVerification(`{"missing_fields":[]}`); err == nil {
		t.Error("expected error when is_sufficient is absent")
	}
}

func TestCleanQuestion(t *testing.T) {
	q, err := cleanQuestion("  \"What is your name?\"\n")
	if err != nil || q != "What is your name?" {
		t.Errorf("cleanQuestion() = %q, %v", q, err)
	}
	if _, err := cleanQuestion(" \"\" "); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestExtractionPromptCarriesContext(t *testing.T) {
	prompt, err := extractionPrompt("at the mall", entities.NewIncidentRecord(), []string{"Caller: fire"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Caller: fire", `"at the mall"`, `"location":"N/A"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}

	if q := questionPrompt("location", nil); !strings.Contains(q, "History: None") {
		t.Errorf("expected placeholder history, got:\n%s", q)
	}
}
