package compat

import (
	"fmt"
	"sort"

	"github.com/chunmedia/chunconv/internal/ffmpeg"
	"github.com/chunmedia/chunconv/internal/media"
)

// Decision is the outcome class of a compatibility check.
type Decision int

const (
	// Accepted means the request is valid as-is.
	Accepted Decision = iota
	// AcceptedWithSubstitution means the request is valid after the listed
	// field rewrites.
	AcceptedWithSubstitution
	// Rejected means no rewrite can make the request valid.
	Rejected
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Accepted:
		return "accepted"
	case AcceptedWithSubstitution:
		return "accepted_with_substitution"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Substitution field names, as used by the rule table's precedence list.
const (
	FieldAudioCodec  = "audio_codec"
	FieldPixelFormat = "pixel_format"
)

// Substitution records one field rewrite applied to make a request valid.
type Substitution struct {
	Field  string
	From   string
	To     string
	Reason string
}

// Verdict is the full result of a compatibility check. For accepted
// verdicts the resolved codec and pixel format fields carry the values the
// command builder must use, with any substitutions already applied.
type Verdict struct {
	Decision      Decision
	Reason        string // set on rejection
	VideoCodec    media.VideoCodec
	AudioCodec    media.AudioCodec
	PixelFormat   media.PixelFormat
	Substitutions []Substitution
}

// Engine evaluates requests against a rule table.
type Engine struct {
	table *RuleTable
}

// NewEngine creates an engine over the given table. A nil table uses the
// embedded default.
func NewEngine(table *RuleTable) *Engine {
	if table == nil {
		table = DefaultRules()
	}
	return &Engine{table: table}
}

// Containers returns the containers the table knows, sorted.
func (e *Engine) Containers() []media.Container {
	out := make([]media.Container, 0, len(e.table.containers))
	for c := range e.table.containers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Evaluate checks the requested combination and resolves substitutions.
//
// Video codec mismatches are rejected outright: picking a different video
// codec changes the result too much to do silently. Audio codec and pixel
// format mismatches are rewritten to the container's (or codec's) preferred
// entry. "copy" codecs bypass the table since their validity depends on the
// source stream.
//
// caps narrows verdicts to what the installed toolchain can encode; a
// resolved codec without an installed encoder is rejected. A nil caps skips
// toolchain checks and judges against the table alone.
func (e *Engine) Evaluate(spec *media.JobSpec, caps *ffmpeg.Capabilities) Verdict {
	rules, ok := e.table.containers[spec.Container]
	if !ok {
		return Verdict{
			Decision: Rejected,
			Reason:   fmt.Sprintf("unknown container %q", spec.Container),
		}
	}

	verdict := Verdict{
		VideoCodec:  media.NormalizeVideoCodec(spec.VideoCodec.String()),
		AudioCodec:  media.NormalizeAudioCodec(spec.AudioCodec.String()),
		PixelFormat: spec.PixelFormat,
	}

	if spec.Container.IsAudioOnly() {
		// No video stream in the output; video fields are irrelevant.
		verdict.VideoCodec = media.VideoNone
		verdict.PixelFormat = media.PixFmtNone
	} else {
		if verdict.VideoCodec == media.VideoNone {
			verdict.VideoCodec = rules.video[0]
		}
		if verdict.VideoCodec != media.VideoCopy && !rules.supportsVideo(verdict.VideoCodec) {
			return Verdict{
				Decision: Rejected,
				Reason: fmt.Sprintf("container %q does not support video codec %q",
					spec.Container, verdict.VideoCodec),
			}
		}
		if caps != nil && !caps.CanEncodeVideo(verdict.VideoCodec) {
			return Verdict{
				Decision: Rejected,
				Reason: fmt.Sprintf("toolchain has no encoder for video codec %q",
					verdict.VideoCodec),
			}
		}
	}

	subs := map[string]Substitution{}

	if verdict.AudioCodec == media.AudioNone {
		verdict.AudioCodec = rules.audio[0]
	} else if verdict.AudioCodec != media.AudioCopy && !rules.supportsAudio(verdict.AudioCodec) {
		replacement := rules.audio[0]
		subs[FieldAudioCodec] = Substitution{
			Field: FieldAudioCodec,
			From:  verdict.AudioCodec.String(),
			To:    replacement.String(),
			Reason: fmt.Sprintf("container %q does not support audio codec %q",
				spec.Container, verdict.AudioCodec),
		}
		verdict.AudioCodec = replacement
	}
	if caps != nil && !caps.CanEncodeAudio(verdict.AudioCodec) {
		return Verdict{
			Decision: Rejected,
			Reason: fmt.Sprintf("toolchain has no encoder for audio codec %q",
				verdict.AudioCodec),
		}
	}

	if verdict.PixelFormat != media.PixFmtNone && verdict.VideoCodec != media.VideoCopy {
		if formats := e.table.pixelFormats(verdict.VideoCodec); len(formats) > 0 {
			if !containsPixFmt(formats, verdict.PixelFormat) {
				subs[FieldPixelFormat] = Substitution{
					Field: FieldPixelFormat,
					From:  verdict.PixelFormat.String(),
					To:    formats[0].String(),
					Reason: fmt.Sprintf("codec %q does not support pixel format %q",
						verdict.VideoCodec, verdict.PixelFormat),
				}
				verdict.PixelFormat = formats[0]
			}
		}
	}

	if len(subs) == 0 {
		verdict.Decision = Accepted
		return verdict
	}

	verdict.Decision = AcceptedWithSubstitution
	for _, field := range e.table.Precedence {
		if sub, ok := subs[field]; ok {
			verdict.Substitutions = append(verdict.Substitutions, sub)
		}
	}
	return verdict
}

func containsPixFmt(formats []media.PixelFormat, f media.PixelFormat) bool {
	for _, candidate := range formats {
		if candidate == f {
			return true
		}
	}
	return false
}
