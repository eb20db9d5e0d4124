package agent

import (
	"fmt"
	"strings"
)

const responseSchemaExample = `[
  {
    "companyName": "Name",
    "summary": "Description...",
    "website": "URL",
    "emails": ["email1", "email2"],
    "phones": ["phone1"],
    "address": "Full Address",
    "coordinates": {
      "lat": 12.345,
      "lng": 67.890
    },
    "socialLinks": {
      "linkedin": "url",
      "twitter": "url"
    },
    "confidenceScore": 85
  }
]`

// BuildPrompt renders the search instruction for a product/region query. It
// does not validate limit; callers clamp it before building.
func BuildPrompt(product, region string, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I need to find real companies that import %s in %s.\n\n", product, region)
	fmt.Fprintf(&b, "Perform a deep search to find at least %d distinct, specific companies.\n", limit)
	b.WriteString("For each company, report:\n")
	for i, field := range []string{
		"The exact company name (companyName).",
		"A brief summary of what they do, confirming they import or distribute the product (summary).",
		"Their website URL (website).",
		"Contact email addresses from contact, about or footer pages (emails).",
		"Phone numbers (phones).",
		"Physical address (address).",
		"Approximate latitude and longitude of the address (coordinates.lat, coordinates.lng).",
		"Social media links, LinkedIn first (socialLinks.linkedin, socialLinks.twitter).",
		"An integer confidence score from 0 to 100 based on data completeness (confidenceScore).",
	} {
		fmt.Fprintf(&b, "%d. %s\n", i+1, field)
	}
	b.WriteString("\nUse Google Search to find this information.\n")
	b.WriteString("Use Google Maps to verify the address if possible.\n\n")
	b.WriteString("Respond with a strictly valid JSON array of objects and nothing else. ")
	b.WriteString("Do not add prose or markdown outside the JSON.\n")
	b.WriteString("The structure must be:\n")
	b.WriteString(responseSchemaExample)
	b.WriteString("\n")
	return b.String()
}
