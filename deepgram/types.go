package deepgram

import "encoding/json"

// Options is the recognized configuration bundle for a prerecorded
// transcription request. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	// accuracy/speed tier, e.g. "nova-2"
	Model string
	// BCP-47 tag used when DetectLanguage is off, and as the fallback
	// when detection fails
	Language       string
	DetectLanguage bool
	Punctuate      bool
	Paragraphs     bool
	Utterances     bool
	SmartFormat    bool
	Diarize        bool
}

// DefaultOptions mirrors the settings the service has always transcribed
// with: nova-2, language auto-detection with an English fallback, and all
// formatting features on.
func DefaultOptions() Options {
	return Options{
		Model:          "nova-2",
		Language:       "en",
		DetectLanguage: true,
		Punctuate:      true,
		Paragraphs:     true,
		Utterances:     true,
		SmartFormat:    true,
		Diarize:        true,
	}
}

// Word is one word-level timing entry in provider-agnostic form.
type Word struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker,omitempty"`
}

// Utterance is a provider-identified contiguous speech segment.
type Utterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Speaker    *int    `json:"speaker,omitempty"`
}

// Result is the normalized transcription response. Raw keeps the provider's
// response body verbatim; it is persisted on the job record so any output
// format can be re-rendered later, and fields normalization drops (detected
// language, paragraphs, confidence envelope) stay available for audit.
type Result struct {
	Transcript string          `json:"transcript"`
	Words      []Word          `json:"words"`
	Utterances []Utterance     `json:"utterances,omitempty"`
	Duration   float64         `json:"duration"`
	Raw        json.RawMessage `json:"-"`
}

// wire types for the prerecorded response envelope

type listenResponse struct {
	Metadata listenMetadata `json:"metadata"`
	Results  listenResults  `json:"results"`
}

type listenMetadata struct {
	Duration float64 `json:"duration"`
}

type listenResults struct {
	Channels   []listenChannel   `json:"channels"`
	Utterances []listenUtterance `json:"utterances"`
}

type listenChannel struct {
	Alternatives []listenAlternative `json:"alternatives"`
}

type listenAlternative struct {
	Transcript string       `json:"transcript"`
	Confidence float64      `json:"confidence"`
	Words      []listenWord `json:"words"`
}

type listenWord struct {
	Word           string  `json:"word"`
	PunctuatedWord string  `json:"punctuated_word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	Speaker        *int    `json:"speaker"`
}

type listenUtterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Speaker    *int    `json:"speaker"`
}

func normalize(body []byte) (*Result, error) {
	var resp listenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	res := &Result{Duration: resp.Metadata.Duration, Raw: body}

	if len(resp.Results.Channels) > 0 && len(resp.Results.Channels[0].Alternatives) > 0 {
		alt := resp.Results.Channels[0].Alternatives[0]
		res.Transcript = alt.Transcript
		for _, w := range alt.Words {
			res.Words = append(res.Words, Word{
				Word:           w.Word,
				PunctuatedWord: w.PunctuatedWord,
				Start:          w.Start,
				End:            w.End,
				Confidence:     w.Confidence,
				Speaker:        w.Speaker,
			})
		}
	}

	for _, u := range resp.Results.Utterances {
		res.Utterances = append(res.Utterances, Utterance{
			Start:      u.Start,
			End:        u.End,
			Transcript: u.Transcript,
			Confidence: u.Confidence,
			Speaker:    u.Speaker,
		})
	}

	return res, nil
}
