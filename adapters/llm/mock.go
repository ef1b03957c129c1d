package llm

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/aarambh/dispatch/server/domain/entities"
	"github.com/aarambh/dispatch/server/domain/repositories"
)

// MockCapabilities is a deterministic keyword based stand-in for the LLM
// providers, used for local runs and tests
type MockCapabilities struct{}

var _ repositories.IntakeCapabilities = (*MockCapabilities)(nil)

// NewMockCapabilities creates a new rule based capability provider
func NewMockCapabilities() *MockCapabilities {
	return &MockCapabilities{}
}

var typeKeywords = []struct {
	kind     entities.EmergencyType
	keywords []string
}{
	{entities.EmergencyTypeHazmat, []string{"gas leak", "chemical", "spill", "toxic"}},
	{entities.EmergencyTypeFire, []string{"fire", "smoke", "burning", "flames"}},
	{entities.EmergencyTypeTrafficAccident, []string{"crash", "accident", "collision", "hit by a car"}},
	{entities.EmergencyTypeMedical, []string{"heart", "breathing", "unconscious", "bleeding", "stroke", "collapsed", "seizure", "chest pain", "overdose"}},
	{entities.EmergencyTypePolice, []string{"robbery", "gun", "break-in", "broke in", "stolen", "assault", "fight", "intruder"}},
}

var dangerKeywords = []struct {
	keyword string
	danger  string
	medical bool
}{
	{"not breathing", "Not Breathing", true},
	{"unconscious", "Unconscious", true},
	{"bleeding", "Severe Bleeding", true},
	{"heart attack", "Cardiac Event", true},
	{"chest pain", "Cardiac Event", true},
	{"stroke", "Stroke", true},
	{"seizure", "Seizure", true},
	{"conscious and breathing", "Conscious And Breathing", false},
	{"trapped", "People Trapped", false},
	{"spreading", "Fire Spreading", false},
	{"gun", "Armed Suspect", false},
}

var ageKeywords = []struct {
	group    entities.AgeGroup
	keywords []string
}{
	{entities.AgeGroupSenior, []string{"old man", "old woman", "elderly", "grandma", "grandpa", "grandmother", "grandfather", "senior"}},
	{entities.AgeGroupChild, []string{"child", "kid", "boy", "girl", "baby", "son", "daughter", "toddler"}},
	{entities.AgeGroupAdult, []string{"adult", "man", "woman", "husband", "wife", "father", "mother"}},
}

var locationMarkers = []string{"street", "st", "avenue", "ave", "road", "rd", "lane", "boulevard", "drive", "highway", "mall", "park", "station", "plaza"}

var (
	namePattern   = regexp.MustCompile(`(?i)\b(?:my name is|name's|i am called)\s+([a-z]+(?:\s+[a-z]+)?)`)
	peoplePattern = regexp.MustCompile(`(?i)\b(\d+|two|three|four|five|six)\s+(?:people|persons|victims|injured)`)
	numberWords   = map[string]int{"two": 2, "three": 3, "four": 4, "five": 5, "six": 6}
)

// Extract fills placeholder fields from keywords in the utterance. Values
// already collected are kept.
func (m *MockCapabilities) Extract(ctx context.Context, utterance string, current entities.IncidentRecord, history []string) (entities.IncidentRecord, error) {
	if err := ctx.Err(); err != nil {
		return entities.IncidentRecord{}, err
	}

	record := current
	text := strings.ToLower(utterance)

	if record.EmergencyType == entities.EmergencyTypeUnknown {
		for _, tk := range typeKeywords {
			if containsAny(text, tk.keywords) {
				record.EmergencyType = tk.kind
				break
			}
		}
	}

	if entities.IsPlaceholder(record.ImmediateDangers) {
		for _, dk := range dangerKeywords {
			if strings.Contains(text, dk.keyword) {
				record.ImmediateDangers = dk.danger
				break
			}
		}
	}
	if entities.IsPlaceholder(record.MedicalConditions) && record.EmergencyType == entities.EmergencyTypeMedical {
		for _, dk := range dangerKeywords {
			if dk.medical && strings.Contains(text, dk.keyword) {
				record.MedicalConditions = dk.danger
				break
			}
		}
	}

	if record.AgeGroup == entities.AgeGroupUnknown {
		for _, ak := range ageKeywords {
			if containsWord(text, ak.keywords) {
				record.AgeGroup = ak.group
				break
			}
		}
	}

	if entities.IsPlaceholder(record.CallerName) {
		if match := namePattern.FindStringSubmatch(utterance); match != nil {
			record.CallerName = titleCase(match[1])
		}
	}

	if entities.IsPlaceholder(record.Location) && containsWord(text, locationMarkers) {
		record.Location = cleanLocation(utterance)
	}

	if match := peoplePattern.FindStringSubmatch(text); match != nil {
		if n, err := strconv.Atoi(match[1]); err == nil {
			record.PeopleInvolved = n
		} else if n, ok := numberWords[match[1]]; ok {
			record.PeopleInvolved = n
		}
	}

	if u := strings.TrimSpace(utterance); u != "" {
		if record.Description == "" {
			record.Description = u
		} else {
			record.Description = record.Description + " " + u
		}
	}

	return record, nil
}

// Verify applies the dispatch checklist in priority order
func (m *MockCapabilities) Verify(ctx context.Context, record entities.IncidentRecord) (entities.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return entities.VerificationResult{}, err
	}

	missing := make([]string, 0, 5)
	if entities.IsPlaceholder(record.Location) {
		missing = append(missing, entities.FieldLocation)
	}
	if record.EmergencyType == entities.EmergencyTypeUnknown {
		missing = append(missing, entities.FieldEmergencyType)
	}
	if !record.HasConcreteDanger() {
		missing = append(missing, entities.FieldImmediateDangers)
	}
	if record.AgeGroup == entities.AgeGroupUnknown {
		missing = append(missing, entities.FieldAgeGroup)
	}
	if entities.IsPlaceholder(record.CallerName) {
		missing = append(missing, entities.FieldCallerName)
	}

	return entities.VerificationResult{
		IsSufficient:  len(missing) == 0,
		MissingFields: missing,
	}, nil
}

var fieldQuestions = map[string]string{
	entities.FieldLocation:         "State the exact address, including city.",
	entities.FieldEmergencyType:    "Tell me exactly what is happening.",
	entities.FieldImmediateDangers: "Is the patient conscious and breathing?",
	entities.FieldAgeGroup:         "Approximate age of the patient?",
	entities.FieldCallerName:       "What is your name?",
	entities.FieldPeopleInvolved:   "How many people are involved?",
}

// GenerateQuestion returns a canned question for the field
func (m *MockCapabilities) GenerateQuestion(ctx context.Context, field string, recentTurns []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if q, ok := fieldQuestions[field]; ok {
		return q, nil
	}
	return "Can you tell me more about the " + strings.ReplaceAll(field, "_", " ") + "?", nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// containsWord matches whole words so that "woman" does not count as "man"
func containsWord(text string, keywords []string) bool {
	padded := " " + strings.Map(func(r rune) rune {
		if r == ',' || r == '.' || r == '!' || r == '?' {
			return ' '
		}
		return r
	}, text) + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") {
			return true
		}
	}
	return false
}

func cleanLocation(utterance string) string {
	loc := strings.TrimSpace(utterance)
	lower := strings.ToLower(loc)
	for _, prefix := range []string{"i'm at ", "i am at ", "we're at ", "we are at ", "it's at ", "at ", "on ", "near "} {
		if strings.HasPrefix(lower, prefix) {
			loc = loc[len(prefix):]
			break
		}
	}
	return strings.TrimRight(loc, ".!? ")
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
