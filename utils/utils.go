package utils

import (
	"strings"

	"github.com/gosimple/slug"
	"github.com/quii/vue-fast-sub001/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FormatRoundName turns stored round identifiers such as "national_50" into
// display labels ("National 50"). Display only; ranking never looks at it.
// A cases.Caser is stateful, so each call builds its own.
func FormatRoundName(round string) string {
	round = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(round))
	if round == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.Join(strings.Fields(round), " "))
}

// FormatClassification keeps short codes like "B3" or "MB" upper case and
// title-cases longer labels.
func FormatClassification(classification *string) string {
	if classification == nil {
		return ""
	}
	c := strings.TrimSpace(*classification)
	if len(c) <= 3 {
		return strings.ToUpper(c)
	}
	return cases.Title(language.English).String(strings.ToLower(c))
}

// ArchiveKey is the object key an expired shoot is archived under.
func ArchiveKey(shoot *models.Shoot) string {
	creator := slug.Make(shoot.CreatorName)
	if creator == "" {
		creator = "unknown"
	}
	return "shoots/" + shoot.CreatedAt.UTC().Format("2006-01-02") + "/" + shoot.Code + "-" + creator + ".json"
}
