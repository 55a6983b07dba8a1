// internal/service/template_service.go
package service

import (
	"strings"

	"github.com/unclebandit/outreach-engine/internal/model"
)

func RenderTemplate(template string, data map[string]string) string {
	result := template
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}

// PersonalizationData is the placeholder set available to campaign templates.
func PersonalizationData(p *model.Prospect) map[string]string {
	return map[string]string{
		"first_name":   p.FirstName,
		"last_name":    p.LastName,
		"company_name": p.CompanyName,
		"company":      p.CompanyName,
		"title":        p.Title,
	}
}

// Personalize fills any placeholder left in a queued message.
func Personalize(text string, p *model.Prospect) string {
	if p == nil || !strings.Contains(text, "{") {
		return text
	}
	return RenderTemplate(text, PersonalizationData(p))
}
