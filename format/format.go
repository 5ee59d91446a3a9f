package format

import (
	"fmt"
	"math"
	"strings"
	"time"

	"yt-transcribe/deepgram"
	"yt-transcribe/jobs"
)

// subtitle cue text is wrapped to this many characters per line
const maxLineLength = 42

// words per cue when the provider returned no utterances to group by
const maxWordsPerCue = 12

// a silence this long starts a new cue in word-grouped mode
const cueGapSeconds = 1.5

// Meta is rendering metadata. It is supplied by the caller so that
// rendering stays a pure function: the same result and meta always produce
// byte-identical output.
type Meta struct {
	Title       string
	GeneratedAt time.Time
}

// Render produces the requested representation of a normalized
// transcription result. An empty result renders a valid empty document for
// every format.
func Render(res *deepgram.Result, f jobs.Format, meta Meta) (string, error) {
	switch f {
	case jobs.FormatTXT:
		return renderTXT(res, meta), nil
	case jobs.FormatSRT:
		return renderSRT(res), nil
	case jobs.FormatVTT:
		return renderVTT(res), nil
	}
	return "", fmt.Errorf("unknown transcript format %q", f)
}

func renderTXT(res *deepgram.Result, meta Meta) string {
	var b strings.Builder

	if meta.Title != "" {
		b.WriteString("# ")
		b.WriteString(meta.Title)
		b.WriteString("\n")
		if !meta.GeneratedAt.IsZero() {
			b.WriteString("# Generated: ")
			b.WriteString(meta.GeneratedAt.UTC().Format(time.RFC3339))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(res.Utterances) > 0 {
		for _, u := range res.Utterances {
			b.WriteString(strings.TrimSpace(u.Transcript))
			b.WriteString("\n")
		}
	} else if res.Transcript != "" {
		b.WriteString(strings.TrimSpace(res.Transcript))
		b.WriteString("\n")
	}

	return b.String()
}

func renderSRT(res *deepgram.Result) string {
	var b strings.Builder
	for i, cue := range buildCues(res) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d\n", i+1)
		fmt.Fprintf(&b, "%s --> %s\n", srtTimestamp(cue.start), srtTimestamp(cue.end))
		b.WriteString(wrap(cue.text))
		b.WriteString("\n")
	}
	return b.String()
}

func renderVTT(res *deepgram.Result) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i, cue := range buildCues(res) {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s --> %s\n", vttTimestamp(cue.start), vttTimestamp(cue.end))
		b.WriteString(wrap(cue.text))
		b.WriteString("\n")
	}
	return b.String()
}

type cue struct {
	start float64
	end   float64
	text  string
}

// buildCues groups the result into subtitle cues: one cue per provider
// utterance when utterances exist, otherwise fixed-size word groups broken
// early at long silences.
func buildCues(res *deepgram.Result) []cue {
	if len(res.Utterances) > 0 {
		cues := make([]cue, 0, len(res.Utterances))
		for _, u := range res.Utterances {
			text := strings.TrimSpace(u.Transcript)
			if text == "" {
				continue
			}
			cues = append(cues, cue{start: u.Start, end: u.End, text: text})
		}
		return cues
	}

	var cues []cue
	var words []string
	var start, end float64

	flush := func() {
		if len(words) == 0 {
			return
		}
		cues = append(cues, cue{start: start, end: end, text: strings.Join(words, " ")})
		words = nil
	}

	for _, w := range res.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		if text == "" {
			continue
		}
		if len(words) > 0 && (len(words) >= maxWordsPerCue || w.Start-end > cueGapSeconds) {
			flush()
		}
		if len(words) == 0 {
			start = w.Start
		}
		words = append(words, text)
		end = w.End
	}
	flush()

	return cues
}

// wrap breaks cue text into lines no longer than maxLineLength, never
// splitting inside a word.
func wrap(text string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > maxLineLength {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	lines = append(lines, line)

	return strings.Join(lines, "\n")
}

func srtTimestamp(seconds float64) string {
	hh, mm, ss, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hh, mm, ss, ms)
}

func vttTimestamp(seconds float64) string {
	hh, mm, ss, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", hh, mm, ss, ms)
}

func splitTimestamp(seconds float64) (int64, int64, int64, int64) {
	if seconds < 0 {
		seconds = 0
	}
	totalMs := int64(math.Round(seconds * 1000))
	ms := totalMs % 1000
	total := totalMs / 1000
	ss := total % 60
	mm := (total / 60) % 60
	hh := total / 3600
	return hh, mm, ss, ms
}
