package assembler

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/samber/lo"

	"innervoice/internal/app/model"
)

// minLabelledBudget is the smallest text budget that still carries a part label.
const minLabelledBudget = 16

// MinPayload is the smallest chunk size at which every multi-part chunk is
// labelled, for up to 99999 parts. Below it Split falls back to unlabelled parts.
const MinPayload = 40

// PartLabel is prepended to each chunk when a section needs more than one.
func PartLabel(i, n int) string {
	return fmt.Sprintf("━━ Part %d/%d ━━\n\n", i, n)
}

// Split cuts text into chunks whose rendered form never exceeds maxRunes.
// Cuts prefer line breaks, then sentence ends, then any whitespace; a word is
// only cut when it alone is longer than a chunk. Concatenating the Text of all
// chunks yields text exactly.
func Split(text string, maxRunes int) []model.DeliveryChunk {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return []model.DeliveryChunk{{Ordinal: 1, Total: 1, Text: text}}
	}

	// The label width depends on the part count, so iterate until it is stable.
	n := 2
	for {
		labelLen := utf8.RuneCountInString(PartLabel(n, n))
		budget := maxRunes - labelLen
		if budget < minLabelledBudget {
			parts := splitRunes(runes, maxRunes)
			return lo.Map(parts, func(p string, i int) model.DeliveryChunk {
				return model.DeliveryChunk{Ordinal: i + 1, Total: len(parts), Text: p}
			})
		}
		parts := splitRunes(runes, budget)
		if len(parts) <= n || digits(len(parts)) == digits(n) {
			return lo.Map(parts, func(p string, i int) model.DeliveryChunk {
				return model.DeliveryChunk{
					Ordinal: i + 1,
					Total:   len(parts),
					Label:   PartLabel(i+1, len(parts)),
					Text:    p,
				}
			})
		}
		n = len(parts)
	}
}

func splitRunes(runes []rune, budget int) []string {
	var parts []string
	for len(runes) > 0 {
		if len(runes) <= budget {
			parts = append(parts, string(runes))
			break
		}
		cut := cutPoint(runes[:budget])
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	return parts
}

// cutPoint returns how many runes of window to take, always at least one.
// Cuts land directly after whitespace so the next chunk starts at a word.
func cutPoint(window []rune) int {
	half := len(window) / 2
	lastSpace, lastSentence, lastBreak := -1, -1, -1
	for i, r := range window {
		if !unicode.IsSpace(r) {
			continue
		}
		lastSpace = i
		if r == '\n' {
			lastBreak = i
		} else if i > 0 && isSentenceEnd(window[i-1]) {
			lastSentence = i
		}
	}
	switch {
	case lastBreak >= half:
		return lastBreak + 1
	case lastSentence >= half:
		return lastSentence + 1
	case lastSpace >= 0:
		return lastSpace + 1
	default:
		return len(window)
	}
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func digits(n int) int {
	return len(fmt.Sprint(n))
}
