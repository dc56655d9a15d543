package outfit

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// backgroundMap pairs each supported occasion with the scene the
// generated photo is staged in.
var backgroundMap = map[string]string{
	"Job Interview":       "professional office lobby with modern corporate interior",
	"Casual Outing":       "trendy urban street with stylish storefronts and natural daylight",
	"Formal Event":        "elegant ballroom with chandeliers and sophisticated ambiance",
	"Date Night":          "upscale restaurant interior with romantic lighting",
	"Business Meeting":    "contemporary conference room with glass walls",
	"Professional/Formal": "elegant professional setting with modern corporate interior or sophisticated ballroom ambiance",
	"Wedding Guest":       "beautiful outdoor garden venue with floral decorations",
	"Garden Party":        "elegant outdoor garden party setting with lush greenery, flowers, and natural daylight",
	"Beach/Resort":        "pristine sandy beach with turquoise ocean water and tropical scenery",
	"Gym/Athletic":        "modern fitness center or outdoor athletic track",
	"Party/Club":          "stylish nightclub interior with ambient lighting",
	"Halloween":           "festive Halloween party setting with atmospheric decorations",
	"Travel":              "airport terminal or scenic travel destination",
}

const defaultBackground = "elegant neutral backdrop with natural lighting"

var titleCaser = cases.Title(language.English)

// normalizeOccasion trims and title-cases free-form occasion input so
// "job interview" and "Job Interview" land on the same map key. Slashes
// are preserved ("Beach/Resort").
func normalizeOccasion(occasion string) string {
	occasion = strings.Join(strings.Fields(occasion), " ")
	if occasion == "" {
		return ""
	}
	return titleCaser.String(occasion)
}

// backgroundFor returns the scene for a normalized occasion, falling
// back to a neutral backdrop for occasions without a curated scene.
func backgroundFor(occasion string) string {
	if scene, ok := backgroundMap[occasion]; ok {
		return scene
	}
	return defaultBackground
}
