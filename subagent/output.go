package subagent

import (
	"bufio"
	"strings"
)

// NormalizeOutput parses raw LLM text into the labeled sections spec
// §4.9 step 5 requires (SUMMARY, CLAIM, EVIDENCE, RESULT, NEXT_STEP),
// each written as a `Label: value` line with RESULT allowed to span
// multiple lines until the next recognized label. If any required
// section is missing, the whole raw text is wrapped into RESULT alone
// and the output is marked degraded with confidence 0.4 (spec §4.9 step
// 5) rather than rejected outright — a model that forgot the format
// still produced something a judge might use.
func NormalizeOutput(raw string) Output {
	sections := parseLabeledSections(raw)

	for _, required := range requiredSections {
		if _, ok := sections[required]; !ok {
			return Output{
				Sections: map[string]string{
					"RESULT": strings.TrimSpace(raw),
				},
				Degraded:   true,
				Confidence: degradedConfidence,
			}
		}
	}

	return Output{Sections: sections, Degraded: false, Confidence: 1.0}
}

func parseLabeledSections(raw string) map[string]string {
	sections := make(map[string]string)
	var currentLabel string
	var currentValue strings.Builder

	flush := func() {
		if currentLabel == "" {
			return
		}
		sections[currentLabel] = strings.TrimSpace(currentValue.String())
		currentValue.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := scanner.Text()
		if label, value, ok := matchLabel(line); ok {
			flush()
			currentLabel = label
			currentValue.WriteString(value)
			continue
		}
		if currentLabel != "" {
			currentValue.WriteString("\n")
			currentValue.WriteString(line)
		}
	}
	flush()

	return sections
}

func matchLabel(line string) (label, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	for _, candidate := range requiredSections {
		prefix := candidate + ":"
		if strings.HasPrefix(trimmed, prefix) {
			return candidate, strings.TrimSpace(trimmed[len(prefix):]), true
		}
	}
	return "", "", false
}
