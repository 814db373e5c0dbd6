package parser

import (
	"strings"

	"github.com/tracelens/backend/internal/models"
)

type tagRule struct {
	marker   string
	severity models.Severity
	color    models.RGB
}

// classificationOrder is the priority in which tag markers are tested.
var classificationOrder = []models.Severity{
	models.SeverityInfo,
	models.SeverityWarning,
	models.SeverityError,
	models.SeverityTrace,
	models.SeverityDebug,
}

// Classifier assigns a severity and row color to message text and counts
// how often each severity was seen.
type Classifier struct {
	rules  []tagRule
	other  models.RGB
	counts map[models.Severity]int
}

// NewClassifier builds the ordered rule table from schema. Empty markers are
// left out so they never match.
func NewClassifier(schema *models.Schema) *Classifier {
	c := &Classifier{
		other:  schema.Colors[models.SeverityOther],
		counts: make(map[models.Severity]int, len(models.Severities)),
	}
	if c.other == (models.RGB{}) {
		c.other = models.White
	}
	for _, sev := range classificationOrder {
		marker := schema.Tags[sev]
		if marker == "" {
			continue
		}
		c.rules = append(c.rules, tagRule{marker: marker, severity: sev, color: schema.Colors[sev]})
	}
	for _, sev := range models.Severities {
		c.counts[sev] = 0
	}
	return c
}

// Classify returns the severity of text and its row color.
func (c *Classifier) Classify(text string) (models.Severity, models.RGB) {
	for _, r := range c.rules {
		if strings.Contains(text, r.marker) {
			c.counts[r.severity]++
			return r.severity, r.color
		}
	}
	c.counts[models.SeverityOther]++
	return models.SeverityOther, c.other
}

// Counts returns a copy of the per-severity counters.
func (c *Classifier) Counts() map[models.Severity]int {
	out := make(map[models.Severity]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
