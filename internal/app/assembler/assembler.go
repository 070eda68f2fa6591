// Package assembler turns ordered per-segment results into the final user-facing output.
package assembler

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	apperrors "innervoice/internal/app/errors"
	"innervoice/internal/app/model"
)

// DefaultPlaceholder replaces the text of a failed segment.
const DefaultPlaceholder = "[segment failed]"

// Config bounds the delivery units.
type Config struct {
	// MaxPayload is the maximum rune count of one rendered delivery chunk, label included.
	MaxPayload  int    `yaml:"max_payload"`
	Placeholder string `yaml:"placeholder"`
}

// DefaultConfig matches a chat message ceiling of 4096 characters.
func DefaultConfig() Config {
	return Config{MaxPayload: 4096, Placeholder: DefaultPlaceholder}
}

// Assembler accumulates segment results of one job.
// It is owned by the worker running the job and is not safe for concurrent use.
type Assembler struct {
	cfg        Config
	kinds      []model.SectionKind
	timestamps bool
	last       int
	pieces     map[model.SectionKind][]string
	failed     []int
	busy       []int
}

// New creates an Assembler producing the sections the output mode asks for.
func New(cfg Config, prefs model.Preferences) *Assembler {
	def := DefaultConfig()
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = def.MaxPayload
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = def.Placeholder
	}
	return &Assembler{
		cfg:        cfg,
		kinds:      SectionsFor(prefs.Mode),
		timestamps: prefs.Timestamps,
		last:       -1,
		pieces:     make(map[model.SectionKind][]string),
	}
}

// SectionsFor lists the output sections of a mode in display order.
func SectionsFor(mode model.OutputMode) []model.SectionKind {
	if mode == model.ModeTranscriptionAndTranslation {
		return []model.SectionKind{model.SectionTranscription, model.SectionTranslation}
	}
	return []model.SectionKind{model.SectionTranslation}
}

// Append records the result of segment index. Indices must strictly increase;
// a violation is an internal consistency error and nothing is recorded.
func (a *Assembler) Append(index int, res model.SegmentResult) error {
	if index <= a.last {
		return apperrors.SegmentE(apperrors.KindInternalConsistency, "assembler.append", index,
			fmt.Errorf("segment index %d after %d", index, a.last))
	}
	a.last = index

	if res.Failed() {
		a.failed = append(a.failed, index)
	}
	if res.NeedsManualRetry() {
		a.busy = append(a.busy, index)
	}

	for _, kind := range a.kinds {
		var r *model.TranscriptionResult
		switch kind {
		case model.SectionTranscription:
			r = res.Transcription
		case model.SectionTranslation:
			r = res.Translation
		}
		if piece := a.render(r); piece != "" {
			a.pieces[kind] = append(a.pieces[kind], piece)
		}
	}
	return nil
}

func (a *Assembler) render(r *model.TranscriptionResult) string {
	if r == nil || r.Failed() {
		if !a.timestamps {
			return a.cfg.Placeholder
		}
		start := 0.0
		if r != nil {
			start = r.StartOffset
		}
		return Marker(start) + " " + a.cfg.Placeholder
	}

	text := strings.TrimSpace(r.Text)
	if !a.timestamps {
		return text
	}
	if len(r.Spans) == 0 {
		if text == "" {
			return ""
		}
		return Marker(r.StartOffset) + " " + text
	}
	lines := lo.FilterMap(r.Spans, func(s model.Span, _ int) (string, bool) {
		t := strings.TrimSpace(s.Text)
		return Marker(s.Start) + " " + t, t != ""
	})
	return strings.Join(lines, "\n")
}

// Failed returns the indices that received a placeholder.
func (a *Assembler) Failed() []int {
	return append([]int(nil), a.failed...)
}

// Busy returns the indices whose backend stayed busy.
func (a *Assembler) Busy() []int {
	return append([]int(nil), a.busy...)
}

// Finalize joins the pieces of each section and splits them into delivery chunks.
func (a *Assembler) Finalize() model.AssembledOutput {
	sep := " "
	if a.timestamps {
		sep = "\n"
	}
	out := model.AssembledOutput{}
	for _, kind := range a.kinds {
		text := strings.Join(a.pieces[kind], sep)
		out.Sections = append(out.Sections, model.Section{
			Kind:   kind,
			Text:   text,
			Chunks: Split(text, a.cfg.MaxPayload),
		})
	}
	return out
}

// WordCounts returns the number of words per section.
func WordCounts(out model.AssembledOutput) map[model.SectionKind]int {
	return lo.SliceToMap(out.Sections, func(s model.Section) (model.SectionKind, int) {
		return s.Kind, len(strings.Fields(s.Text))
	})
}

// Marker formats a job-relative offset as [MM:SS]; minutes keep counting past an hour.
func Marker(offset float64) string {
	if offset < 0 {
		offset = 0
	}
	total := int(math.Floor(offset))
	return fmt.Sprintf("[%02d:%02d]", total/60, total%60)
}
