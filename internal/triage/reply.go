package triage

import (
	"fmt"
	"strings"
)

// FormatReply renders a result as the markdown reply shown in the chat UI.
func FormatReply(r *Result) string {
	conf := "N/A"
	if r.Confidence != 0 {
		conf = percent(r.Confidence)
	}

	urgent := "لا"
	if r.Urgent {
		urgent = "نعم"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**التخصص المقترح:** %s\n", r.Specialty)
	fmt.Fprintf(&b, "**مستوى الثقة:** %s\n", conf)
	fmt.Fprintf(&b, "**مستوى الشدة:** %s\n", r.SeverityLevel)
	fmt.Fprintf(&b, "**هل هو عاجل؟:** %s\n\n", urgent)

	if r.Answer != "" {
		fmt.Fprintf(&b, "**الإجابة:**\n%s\n\n", r.Answer)
		fmt.Fprintf(&b, "**مستوى ثقة الإجابة:** %s\n\n", percent(r.AnswerConfidence))
	}

	fmt.Fprintf(&b, "**%s**", r.Disclaimer)
	return b.String()
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
