package cv

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Field names as they appear in the stored JSON, in canonical order.
const (
	FieldPersonalInfo     = "personalInfo"
	FieldExperiences      = "experiences"
	FieldEducation        = "education"
	FieldSkills           = "skills"
	FieldLanguages        = "languages"
	FieldAboutDescription = "aboutDescription"
)

// RequiredFields lists the top-level fields every stored document must carry.
var RequiredFields = []string{
	FieldPersonalInfo,
	FieldExperiences,
	FieldEducation,
	FieldSkills,
	FieldLanguages,
	FieldAboutDescription,
}

type PersonalInfo struct {
	Name         string `json:"name"`
	Title        string `json:"title"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Website      string `json:"website"`
	ProfileImage string `json:"profileImage"`
}

type Experience struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
	Period   string `json:"period"`
	PeriodES string `json:"period_es,omitempty"`
	PeriodFR string `json:"period_fr,omitempty"`
	// language code -> bullet points
	Description map[string][]string `json:"description"`
}

type Education struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Institution string `json:"institution"`
	Year        string `json:"year"`
	Type        string `json:"type"`
}

type Language struct {
	Name        string `json:"name"`
	Level       string `json:"level"`
	Proficiency int    `json:"proficiency"`
}

// UnmarshalJSON accepts fractional proficiency values and rounds them.
func (l *Language) UnmarshalJSON(data []byte) error {
	type plain Language
	aux := struct {
		*plain
		Proficiency *json.Number `json:"proficiency"`
	}{plain: (*plain)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Proficiency == nil {
		return nil
	}
	f, err := aux.Proficiency.Float64()
	if err != nil || math.IsNaN(f) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("language %q: proficiency %s is not a number in range", l.Name, aux.Proficiency.String())
	}
	l.Proficiency = int(math.Round(f))
	return nil
}

// Document is the single CV held by the content store. A nil field means the
// field is absent, which only ever happens for documents that have not been
// validated yet.
type Document struct {
	ID               string              `json:"id"`
	PersonalInfo     *PersonalInfo       `json:"personalInfo"`
	Experiences      []Experience        `json:"experiences"`
	Education        []Education         `json:"education"`
	Skills           map[string][]string `json:"skills"`
	Languages        []Language          `json:"languages"`
	AboutDescription map[string]string   `json:"aboutDescription"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// layouts for updated_at as written by earlier deployments, zone-less UTC
var legacyStampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"}

// UnmarshalJSON reads documents written by earlier deployments, which stamped
// updated_at instead of updatedAt. An unparseable legacy stamp is dropped.
func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document
	aux := struct {
		*plain
		LegacyUpdatedAt string `json:"updated_at"`
	}{plain: (*plain)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if !d.UpdatedAt.IsZero() || aux.LegacyUpdatedAt == "" {
		return nil
	}
	for _, layout := range legacyStampLayouts {
		if t, err := time.Parse(layout, aux.LegacyUpdatedAt); err == nil {
			d.UpdatedAt = t.UTC()
			return nil
		}
	}
	return nil
}

// MissingFields returns the required fields that are absent, in canonical order.
func (d *Document) MissingFields() []string {
	var missing []string
	if d.PersonalInfo == nil {
		missing = append(missing, FieldPersonalInfo)
	}
	if d.Experiences == nil {
		missing = append(missing, FieldExperiences)
	}
	if d.Education == nil {
		missing = append(missing, FieldEducation)
	}
	if d.Skills == nil {
		missing = append(missing, FieldSkills)
	}
	if d.Languages == nil {
		missing = append(missing, FieldLanguages)
	}
	if d.AboutDescription == nil {
		missing = append(missing, FieldAboutDescription)
	}
	return missing
}

// CheckValues validates field contents that the type system cannot express.
func CheckValues(langs []Language) error {
	for i, l := range langs {
		if l.Proficiency < 0 || l.Proficiency > 100 {
			return fmt.Errorf("languages[%d] %q: proficiency %d out of range 0..100", i, l.Name, l.Proficiency)
		}
	}
	return nil
}

// EnsureIDs assigns fresh ids to the document and to list items that lack one.
func (d *Document) EnsureIDs() {
	if d.ID == "" {
		d.ID = NewID()
	}
	for i := range d.Experiences {
		if d.Experiences[i].ID == "" {
			d.Experiences[i].ID = NewID()
		}
	}
	for i := range d.Education {
		if d.Education[i].ID == "" {
			d.Education[i].ID = NewID()
		}
	}
}

func NewID() string { return uuid.NewString() }

// Counts summarizes a document for import/export/status responses.
type Counts struct {
	Experiences      int `json:"experiences"`
	Education        int `json:"education"`
	SkillsCategories int `json:"skills_categories"`
	Languages        int `json:"languages"`
}

func (d *Document) Counts() Counts {
	return Counts{
		Experiences:      len(d.Experiences),
		Education:        len(d.Education),
		SkillsCategories: len(d.Skills),
		Languages:        len(d.Languages),
	}
}
