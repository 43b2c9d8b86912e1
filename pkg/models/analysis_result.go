package models

import (
	"errors"
	"fmt"
	"time"
)

// Analysis is the authoritative job record served by GET /analysis/{id}.
// Every result section is independently optional, even on COMPLETED.
type Analysis struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status"`
	Error         *string   `json:"error,omitempty"`
	ImageURL      string    `json:"image_url"`
	ImageFilename string    `json:"image_filename"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Vision      *VisionResult `json:"vision_result"`
	Story       *Story        `json:"story"`
	Taste       *Taste        `json:"taste"`
	Pricing     *Pricing      `json:"pricing"`
	BrandTheme  *BrandTheme   `json:"brand_theme"`
	SEO         *SEO          `json:"seo"`
	Marketplace *Marketplace  `json:"marketplace"`
	Persona     *Persona      `json:"persona"`
	Packaging   *Packaging    `json:"packaging"`
	ActionPlan  *ActionPlan   `json:"action_plan"`
}

// Section names as they appear on the wire.
const (
	SectionVision      = "vision_result"
	SectionStory       = "story"
	SectionTaste       = "taste"
	SectionPricing     = "pricing"
	SectionBrandTheme  = "brand_theme"
	SectionSEO         = "seo"
	SectionMarketplace = "marketplace"
	SectionPersona     = "persona"
	SectionPackaging   = "packaging"
	SectionActionPlan  = "action_plan"
)

// Sections returns the names of the result sections present on a.
func (a *Analysis) Sections() []string {
	present := []struct {
		name string
		ok   bool
	}{
		{SectionVision, a.Vision != nil},
		{SectionStory, a.Story != nil},
		{SectionTaste, a.Taste != nil},
		{SectionPricing, a.Pricing != nil},
		{SectionBrandTheme, a.BrandTheme != nil},
		{SectionSEO, a.SEO != nil},
		{SectionMarketplace, a.Marketplace != nil},
		{SectionPersona, a.Persona != nil},
		{SectionPackaging, a.Packaging != nil},
		{SectionActionPlan, a.ActionPlan != nil},
	}
	var names []string
	for _, p := range present {
		if p.ok {
			names = append(names, p.name)
		}
	}
	return names
}

// HasPayload reports whether any result section is present.
func (a *Analysis) HasPayload() bool {
	return len(a.Sections()) > 0
}

// ProductName returns the story's product name, or "" when the story or the name is absent.
func (a *Analysis) ProductName() string {
	if a.Story == nil || a.Story.ProductName == nil {
		return ""
	}
	return *a.Story.ProductName
}

// ErrorMessage returns the server error message, or "" when none is set.
func (a *Analysis) ErrorMessage() string {
	if a.Error == nil {
		return ""
	}
	return *a.Error
}

var ErrInvalidRecord = errors.New("invalid analysis record")

// Validate checks the status/payload/error invariant: non-terminal records carry
// neither payload nor error, FAILED carries an error and no payload, COMPLETED
// carries no error.
func (a *Analysis) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if !a.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, a.Status)
	}
	hasErr := a.ErrorMessage() != ""
	switch a.Status {
	case StatusPending, StatusProcessing:
		if hasErr || a.HasPayload() {
			return fmt.Errorf("%w: %s record carries a result or error", ErrInvalidRecord, a.Status)
		}
	case StatusFailed:
		if !hasErr {
			return fmt.Errorf("%w: FAILED record without error", ErrInvalidRecord)
		}
		if a.HasPayload() {
			return fmt.Errorf("%w: FAILED record carries a result", ErrInvalidRecord)
		}
	case StatusCompleted:
		if hasErr {
			return fmt.Errorf("%w: COMPLETED record carries an error", ErrInvalidRecord)
		}
	}
	return nil
}

type VisionResult struct {
	Labels  []string       `json:"labels"`
	Colors  []string       `json:"colors"`
	Objects []string       `json:"objects"`
	Mood    *string        `json:"mood"`
	Raw     map[string]any `json:"raw,omitempty"`
}

type Story struct {
	ProductName         *string `json:"product_name"`
	Tagline             *string `json:"tagline"`
	ShortDesc           *string `json:"short_desc"`
	LongDesc            *string `json:"long_desc"`
	CaptionCasual       *string `json:"caption_casual"`
	CaptionProfessional *string `json:"caption_professional"`
	CaptionStorytelling *string `json:"caption_storytelling"`
}

type Taste struct {
	TasteProfile   []string `json:"taste_profile"`
	AromaProfile   []string `json:"aroma_profile"`
	SensoryPersona *string  `json:"sensory_persona"`
	Pairing        []string `json:"pairing"`
}

type Pricing struct {
	RecommendedPrice *float64 `json:"recommended_price"`
	MinPrice         *float64 `json:"min_price"`
	MaxPrice         *float64 `json:"max_price"`
	Reasoning        *string  `json:"reasoning"`
	PromoStrategy    []string `json:"promo_strategy"`
	BestPostingTime  *string  `json:"best_posting_time"`
}

type BrandTheme struct {
	PrimaryColor     *string  `json:"primary_color"`
	SecondaryColor   *string  `json:"secondary_color"`
	AccentColor      *string  `json:"accent_color"`
	Tone             *string  `json:"tone"`
	StyleSuggestions []string `json:"style_suggestions"`
}

type SEO struct {
	Keywords []string `json:"keywords"`
	Hashtags []string `json:"hashtags"`
}

type Marketplace struct {
	ShopeeDesc    *string `json:"shopee_desc"`
	TokopediaDesc *string `json:"tokopedia_desc"`
	InstagramDesc *string `json:"instagram_desc"`
}

// Persona demographics are a free-form dictionary (age_range, location, gender, ...).
type Persona struct {
	Name         *string        `json:"name"`
	Bio          *string        `json:"bio"`
	Demographics map[string]any `json:"demographics"`
	Motivations  []string       `json:"motivations"`
	PainPoints   []string       `json:"pain_points"`
}

type Packaging struct {
	Suggestions             []string `json:"suggestions"`
	MaterialRecommendations []string `json:"material_recommendations"`
}

type ActionPlan struct {
	Day1 *string `json:"day_1"`
	Day2 *string `json:"day_2"`
	Day3 *string `json:"day_3"`
	Day4 *string `json:"day_4"`
	Day5 *string `json:"day_5"`
	Day6 *string `json:"day_6"`
	Day7 *string `json:"day_7"`
}
