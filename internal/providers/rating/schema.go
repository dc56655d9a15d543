package rating

import (
	"encoding/json"
	"errors"
	"strings"

	"stylist/internal/fault"
)

// StructuredRating is the fixed schema returned to callers of the rate
// workflow. The model's raw JSON is validated and coerced into this shape
// at the client boundary; unvalidated payloads never leave this package.
type StructuredRating struct {
	WowFactor          float64          `json:"wow_factor"`
	OccasionFitness    float64          `json:"occasion_fitness"`
	OverallRating      float64          `json:"overall_rating"`
	WowFactorNotes     string           `json:"wow_factor_explanation,omitempty"`
	OccasionNotes      string           `json:"occasion_fitness_explanation,omitempty"`
	Summary            string           `json:"overall_explanation"`
	Strengths          []string         `json:"strengths"`
	Improvements       []string         `json:"improvements,omitempty"`
	Suggestions        []string         `json:"suggestions"`
	Roast              string           `json:"roast,omitempty"`
	ShoppingRecommends []ShoppingRecord `json:"shopping_recommendations,omitempty"`
}

// ShoppingRecord is one suggested purchase accompanying a rating.
type ShoppingRecord struct {
	Item        string `json:"item"`
	Description string `json:"description"`
	Price       string `json:"price,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// OutfitDescription is the structured generation brief produced by
// Describe. The orchestrator turns it into the image-generation prompt.
type OutfitDescription struct {
	Summary      string         `json:"outfit_summary"`
	Items        []OutfitItem   `json:"items"`
	ColorPalette ColorPalette   `json:"color_palette"`
	StyleNotes   string         `json:"style_notes,omitempty"`
	ShoppingList []ShoppingItem `json:"shopping_list,omitempty"`
}

// OutfitItem is one garment or accessory in the described outfit.
type OutfitItem struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Material    string `json:"material,omitempty"`
	Why         string `json:"why,omitempty"`
}

// ColorPalette explains the described outfit's colors.
type ColorPalette struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary,omitempty"`
	Accent    string `json:"accent,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// ShoppingItem is one entry of the described outfit's shopping list.
type ShoppingItem struct {
	Item        string `json:"item"`
	Description string `json:"description"`
	PriceRange  string `json:"price_range,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// DetailLine flattens the outfit items into a single prompt-friendly
// sentence fragment, e.g. "linen blazer in beige, tapered trousers in navy".
func (d *OutfitDescription) DetailLine() string {
	var parts []string
	for _, item := range d.Items {
		desc := strings.TrimSpace(item.Description)
		if desc == "" {
			desc = strings.TrimSpace(item.Name)
		}
		if desc == "" {
			continue
		}
		if color := strings.TrimSpace(item.Color); color != "" {
			parts = append(parts, desc+" in "+color)
		} else {
			parts = append(parts, desc)
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(d.Summary)
	}
	return strings.Join(parts, ", ")
}

// parseStructuredRating decodes and coerces the model's answer. Scores are
// clamped into [1,10]; a missing overall rating is derived from the partial
// scores when possible, otherwise the response is rejected.
func parseStructuredRating(raw string) (*StructuredRating, error) {
	fragment := extractJSONFragment(raw)
	if fragment == "" {
		return nil, fault.New(fault.KindUpstreamRejected, "rating response was empty")
	}
	var parsed StructuredRating
	if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamRejected, "rating response was not valid JSON", err)
	}
	parsed.WowFactor = clampScore(parsed.WowFactor)
	parsed.OccasionFitness = clampScore(parsed.OccasionFitness)
	parsed.OverallRating = clampScore(parsed.OverallRating)
	if parsed.OverallRating == 0 {
		if parsed.WowFactor > 0 && parsed.OccasionFitness > 0 {
			parsed.OverallRating = clampScore((parsed.WowFactor + parsed.OccasionFitness) / 2)
		} else {
			return nil, fault.New(fault.KindUpstreamRejected, "rating response carried no usable scores")
		}
	}
	parsed.Strengths = trimAll(parsed.Strengths)
	parsed.Improvements = trimAll(parsed.Improvements)
	parsed.Suggestions = trimAll(parsed.Suggestions)
	if len(parsed.Suggestions) == 0 {
		parsed.Suggestions = parsed.Improvements
	}
	if parsed.Summary == "" {
		parsed.Summary = parsed.WowFactorNotes
	}
	return &parsed, nil
}

// parseOutfitDescription decodes and validates a generation brief.
func parseOutfitDescription(raw string) (*OutfitDescription, error) {
	fragment := extractJSONFragment(raw)
	if fragment == "" {
		return nil, fault.New(fault.KindUpstreamRejected, "description response was empty")
	}
	var parsed OutfitDescription
	if err := json.Unmarshal([]byte(fragment), &parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamRejected, "description response was not valid JSON", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" && len(parsed.Items) == 0 {
		return nil, fault.New(fault.KindUpstreamRejected, "description response carried no outfit content")
	}
	return &parsed, nil
}

// clampScore forces a score into [1,10]; zero means absent and stays zero.
func clampScore(v float64) float64 {
	if v == 0 {
		return 0
	}
	if v < 1 {
		return 1
	}
	if v > 10 {
		return 10
	}
	return v
}

func trimAll(values []string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// extractJSONFragment strips code fences and surrounding prose so that a
// mostly-JSON model answer still decodes.
func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

var errEmptyChoice = errors.New("rating: completion carried no content")
