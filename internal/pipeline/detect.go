package pipeline

import "strings"

type DetectResult struct {
	IsOrder bool
	Score   float64
	Reason  string
}

var orderKeywords = []string{
	"nota de encomenda", "encomenda", "requisi", "compromisso", "cabimento",
	"purchase order", "order", "pedido",
}

// DetectPurchaseOrder scores a mail on keywords in its subject, body and
// attachment names. A mail without any extractable attachment never counts.
func DetectPurchaseOrder(subject, text string, attachments []string, extractable int) DetectResult {
	if extractable == 0 {
		return DetectResult{Reason: "no_documents"}
	}

	subject = strings.ToLower(subject)
	text = strings.ToLower(text)

	score := 0.3
	for _, kw := range orderKeywords {
		if strings.Contains(subject, kw) {
			score += 0.3
		}
		if strings.Contains(text, kw) {
			score += 0.15
		}
	}
	for _, name := range attachments {
		ln := strings.ToLower(name)
		if strings.HasPrefix(ln, "ne") || strings.Contains(ln, "encomenda") || strings.Contains(ln, "order") {
			score += 0.3
			break
		}
	}
	score = min(score, 1)

	isOrder := score >= 0.45
	reason := "rules_negative"
	if isOrder {
		reason = "rules_positive"
	}
	return DetectResult{IsOrder: isOrder, Score: score, Reason: reason}
}
