package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aarambh/dispatch/server/domain/entities"
)

const extractorSystemPrompt = `You are a highly trained 911 dispatch assistant. Update the incident report JSON from the conversation.

Rules:
1. Medical means danger. If the caller reports a medical crisis (heart attack, stroke, bleeding), immediate_dangers must not be "N/A" or "None". Set it to the condition, for example "Cardiac Event" or "Life Threatening".
2. Normalize locations to "Street/Landmark, City, State". A city or country alone is not a location.
3. Listen for age keywords: "boy" or "baby" is child, "old man" is senior.
4. Keep every value already collected unless the caller corrects it.

Respond with the full JSON record using the keys caller_name, emergency_type, location, people_involved, age_group, immediate_dangers, medical_conditions, description.`

const verifierSystemPrompt = `You are a dispatch supervisor auditing an incident report for completeness.

Add a field to missing_fields when it fails its check, in this order:
1. location: must be specific (street and city). Reject broad regions.
2. emergency_type: must not be "unknown".
3. immediate_dangers: for medical emergencies it cannot be "N/A" or "None". For fire or police it must be specific.
4. age_group: must not be "unknown".
5. caller_name: must not be "N/A".

is_sufficient is true only when missing_fields is empty. Respond with JSON using the keys is_sufficient and missing_fields.`

const questionSystemPrompt = `You are a 911 operator. Ask ONE direct question for the missing field.
Tone: professional, efficient, calm. Reply with the question only.`

func extractionPrompt(utterance string, current entities.IncidentRecord, history []string) (string, error) {
	data, err := json.Marshal(current)
	if err != nil {
		return "", fmt.Errorf("failed to marshal current record: %w", err)
	}
	return fmt.Sprintf("# History\n%s\n\n# Current Data\n%s\n\n# New Input\n%q\n\nUpdate the JSON. Be strict.",
		strings.Join(history, "\n"), data, utterance), nil
}

func verificationPrompt(record entities.IncidentRecord) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return fmt.Sprintf("Collected Data: %s\n\nPerform audit.", data), nil
}

func questionPrompt(field string, recentTurns []string) string {
	history := "None"
	if len(recentTurns) > 0 {
		history = strings.Join(recentTurns, "\n")
	}
	return fmt.Sprintf(`Missing Field: %s
History: %s

Directives:
- If age_group is missing: "Approximate age of the patient?"
- If immediate_dangers is missing on a medical call: "Is the patient conscious and breathing?"
- If location is missing: "State the exact address, including city."

Generate question:`, field, history)
}

// recordPayload mirrors IncidentRecord with optional fields so that keys the
// model leaves out fall back to the record defaults
type recordPayload struct {
	CallerName        *string `json:"caller_name"`
	EmergencyType     *string `json:"emergency_type"`
	Location          *string `json:"location"`
	PeopleInvolved    *int    `json:"people_involved"`
	AgeGroup          *string `json:"age_group"`
	ImmediateDangers  *string `json:"immediate_dangers"`
	MedicalConditions *string `json:"medical_conditions"`
	Description       *string `json:"description"`
}

type verificationPayload struct {
	IsSufficient  *bool    `json:"is_sufficient"`
	MissingFields []string `json:"missing_fields"`
}

// stripCodeFence removes a ```json fence some models wrap around JSON output
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func decodeRecord(raw string) (entities.IncidentRecord, error) {
	var payload recordPayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return entities.IncidentRecord{}, fmt.Errorf("malformed record: %w", err)
	}

	record := entities.NewIncidentRecord()
	if payload.CallerName != nil {
		record.CallerName = *payload.CallerName
	}
	if payload.EmergencyType != nil {
		record.EmergencyType = entities.EmergencyType(strings.ToLower(strings.TrimSpace(*payload.EmergencyType)))
	}
	if payload.Location != nil {
		record.Location = *payload.Location
	}
	if payload.PeopleInvolved != nil {
		record.PeopleInvolved = *payload.PeopleInvolved
	}
	if payload.AgeGroup != nil {
		record.AgeGroup = entities.AgeGroup(strings.ToLower(strings.TrimSpace(*payload.AgeGroup)))
	}
	if payload.ImmediateDangers != nil {
		record.ImmediateDangers = *payload.ImmediateDangers
	}
	if payload.MedicalConditions != nil {
		record.MedicalConditions = *payload.MedicalConditions
	}
	if payload.Description != nil {
		record.Description = *payload.Description
	}

	if err := record.Validate(); err != nil {
		return entities.IncidentRecord{}, fmt.Errorf("malformed record: %w", err)
	}
	return record, nil
}

func decodeVerification(raw string) (entities.VerificationResult, error) {
	var payload verificationPayload
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &payload); err != nil {
		return entities.VerificationResult{}, fmt.Errorf("malformed verification: %w", err)
	}
	if payload.IsSufficient == nil {
		return entities.VerificationResult{}, fmt.Errorf("malformed verification: is_sufficient is missing")
	}

	missing := make([]string, 0, len(payload.MissingFields))
	for _, field := range payload.MissingFields {
		if f := strings.TrimSpace(field); f != "" {
			missing = append(missing, f)
		}
	}
	return entities.VerificationResult{
		IsSufficient:  *payload.IsSufficient,
		MissingFields: missing,
	}, nil
}

// cleanQuestion trims quotes and whitespace the model tends to add
func cleanQuestion(raw string) (string, error) {
	q := strings.Trim(strings.TrimSpace(raw), "\"'")
	q = strings.TrimSpace(q)
	if q == "" {
		return "", fmt.Errorf("empty question")
	}
	return q, nil
}
