package understand

import (
	"context"
	"regexp"
	"strings"

	"github.com/guanpeibj/family-ai-assistant-sub001/internal/models"
)

// KeywordAdapter is a deterministic keyword-based extractor used when the
// GPT adapter is unavailable. It recognizes a narrow set of patterns and
// leaves everything else as free-form info records.
type KeywordAdapter struct{}

func NewKeywordAdapter() *KeywordAdapter {
	return &KeywordAdapter{}
}

var (
	amountPattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:元|块|¥|rmb|yuan)?`)
	currencyHint  = regexp.MustCompile(`元|块钱?|¥|rmb|yuan`)
)

var typeKeywords = map[models.RecordType][]string{
	models.TypeExpense:  {"记账", "花了", "买了", "支出", "付了", "spent", "bought", "paid"},
	models.TypeHealth:   {"体重", "身高", "体温", "血压", "weight", "height", "temperature"},
	models.TypeReminder: {"提醒", "别忘", "记得", "remind", "don't forget"},
}

func (a *KeywordAdapter) Understand(_ context.Context, text string, prior models.Understanding) (*Extraction, error) {
	lower := strings.ToLower(text)
	fields := prior.Clone()

	recordType := models.RecordType(fields[models.FieldType])
	if recordType == "" {
		recordType = models.TypeInfo
		for t, keywords := range typeKeywords {
			for _, kw := range keywords {
				if strings.Contains(lower, kw) {
					recordType = t
					break
				}
			}
			if recordType != models.TypeInfo {
				break
			}
		}
	}

	if recordType == models.TypeExpense || recordType == models.TypeHealth {
		if m := amountPattern.FindStringSubmatch(text); m != nil {
			// Bare numbers are only trusted when clarifying a known type or
			// when a currency marker backs them up.
			if len(prior) > 0 || currencyHint.MatchString(text) {
				key := models.FieldAmount
				if recordType == models.TypeHealth {
					key = models.FieldValue
				}
				if fields[key] == "" {
					fields[key] = m[1]
				}
			}
		}
	}

	fields[models.FieldType] = string(recordType)
	fields[models.FieldSource] = "keyword-fallback"

	return &Extraction{
		Type:       recordType,
		Fields:     fields,
		Summary:    text,
		Confidence: 0.3,
	}, nil
}
