package domain

import (
	"encoding/json"
	"fmt"
)

// JobResult is a tagged union of per-family generation outcomes. Exactly one
// arm matching Family is populated.
type JobResult struct {
	Family         JobFamily             `json:"family"`
	Illustration   *IllustrationResult   `json:"illustration,omitempty"`
	DialogueTiming *DialogueTimingResult `json:"dialogue_timing,omitempty"`
	TTS            *TTSResult            `json:"tts,omitempty"`
	Animatic       *AnimaticResult       `json:"animatic,omitempty"`
	Export         *ExportResult         `json:"export,omitempty"`
}

// IllustrationResult is the outcome of a frame illustration job.
type IllustrationResult struct {
	ImageURL   string `json:"image_url"`
	PromptUsed string `json:"prompt_used"`
	Style      string `json:"style"`
	Seed       int64  `json:"seed,omitempty"`
}

// DialogueLine is one timed line within a dialogue timing result.
type DialogueLine struct {
	Character string  `json:"character"`
	Text      string  `json:"text"`
	StartAt   float64 `json:"start_at"`
	Duration  float64 `json:"duration"`
}

// DialogueTimingResult is the outcome of a dialogue timing job.
type DialogueTimingResult struct {
	Lines         []DialogueLine `json:"lines"`
	TotalDuration float64        `json:"total_duration"`
}

// TTSResult is the outcome of a text-to-speech job.
type TTSResult struct {
	AudioURL string  `json:"audio_url"`
	Voice    string  `json:"voice"`
	Duration float64 `json:"duration"`
}

// AnimaticResult is the outcome of an animatic render job.
type AnimaticResult struct {
	DownloadURL string  `json:"download_url"`
	Format      string  `json:"format"`
	FPS         int     `json:"fps"`
	Duration    float64 `json:"duration"`
}

// ExportResult is the outcome of an export packaging job.
type ExportResult struct {
	DownloadURL string `json:"download_url"`
	Format      string `json:"format"`
	PageCount   int    `json:"page_count,omitempty"`
}

// Validate checks that the populated arm matches the declared family.
func (r *JobResult) Validate() error {
	if r == nil {
		return nil
	}
	ok := false
	switch r.Family {
	case FamilyIllustration:
		ok = r.Illustration != nil
	case FamilyDialogueTiming:
		ok = r.DialogueTiming != nil
	case FamilyTTS:
		ok = r.TTS != nil
	case FamilyAnimatic:
		ok = r.Animatic != nil
	case FamilyExport:
		ok = r.Export != nil
	default:
		return fmt.Errorf("result: unknown family %q", r.Family)
	}
	if !ok {
		return fmt.Errorf("result: missing %s payload", r.Family)
	}
	return nil
}

// DecodeResult parses a raw executor result payload into the arm for the
// given family.
func DecodeResult(family JobFamily, raw json.RawMessage) (*JobResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	res := &JobResult{Family: family}
	var err error
	switch family {
	case FamilyIllustration:
		res.Illustration = &IllustrationResult{}
		err = json.Unmarshal(raw, res.Illustration)
	case FamilyDialogueTiming:
		res.DialogueTiming = &DialogueTimingResult{}
		err = json.Unmarshal(raw, res.DialogueTiming)
	case FamilyTTS:
		res.TTS = &TTSResult{}
		err = json.Unmarshal(raw, res.TTS)
	case FamilyAnimatic:
		res.Animatic = &AnimaticResult{}
		err = json.Unmarshal(raw, res.Animatic)
	case FamilyExport:
		res.Export = &ExportResult{}
		err = json.Unmarshal(raw, res.Export)
	default:
		return nil, fmt.Errorf("result: unknown family %q", family)
	}
	if err != nil {
		return nil, fmt.Errorf("result: decode %s payload: %w", family, err)
	}
	return res, nil
}
