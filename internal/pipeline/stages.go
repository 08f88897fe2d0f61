package pipeline

import (
	"context"
	"fmt"

	"dubber/internal/media/ffprobe"
	"dubber/internal/voice"
)

// State is a point in the linear run state machine.
type State string

const (
	StateStart             State = "start"
	StateVideoResolved     State = "video_resolved"
	StateAudioExtracted    State = "audio_extracted"
	StateTranscribed       State = "transcribed"
	StateSpeechSynthesized State = "speech_synthesized"
	StateRemuxed           State = "remuxed"
)

// Done reports whether s is the terminal success state.
func (s State) Done() bool {
	return s == StateRemuxed
}

// Stage names one edge of the state machine.
type Stage string

const (
	StageResolve    Stage = "resolve"
	StageExtract    Stage = "extract"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageRemux      Stage = "remux"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageResolve, StageExtract, StageTranslate, StageSynthesize, StageRemux}

// Reaches returns the state entered when the stage succeeds.
func (s Stage) Reaches() State {
	switch s {
	case StageResolve:
		return StateVideoResolved
	case StageExtract:
		return StateAudioExtracted
	case StageTranslate:
		return StateTranscribed
	case StageSynthesize:
		return StateSpeechSynthesized
	case StageRemux:
		return StateRemuxed
	default:
		return StateStart
	}
}

// StageError records which stage stopped the run.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Fetcher materializes a remote video at dest.
type Fetcher interface {
	Fetch(ctx context.Context, url, dest string) error
}

// Extractor writes the audio track of video to audio.
type Extractor interface {
	ExtractAudio(ctx context.Context, video, audio string) error
}

// Translator produces a target-language transcript from audio.
type Translator interface {
	Translate(ctx context.Context, audio string) (string, error)
}

// Synthesizer renders text as speech in the given voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, v voice.Voice, dest string) error
}

// Remuxer replaces the audio of video with audio, writing output.
type Remuxer interface {
	Remux(ctx context.Context, video, audio, output string) error
}

// OutputValidator inspects the final output.
type OutputValidator interface {
	ValidateDubbed(ctx context.Context, path string) (ffprobe.Result, error)
}
