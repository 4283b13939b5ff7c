// Package compat decides whether a requested output combination of
// container, codecs, and pixel format can be produced, and rewrites
// incompatible fields to supported substitutes where the rule table allows.
//
// The engine is pure: verdicts depend only on the rule table, the request,
// and an optional capability snapshot. It never touches the filesystem or
// runs the toolchain itself.
package compat

import (
	_ "embed"
	"fmt"

	"github.com/chunmedia/chunconv/internal/media"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// RuleTable is the parsed compatibility table.
type RuleTable struct {
	Version    int                          `yaml:"version"`
	Precedence []string                     `yaml:"precedence"`
	Codecs     map[string]CodecRule         `yaml:"codecs"`
	Containers map[string]ContainerRule     `yaml:"containers"`
	containers map[media.Container]container // normalized lookup
}

// CodecRule lists the pixel formats a video codec can carry.
type CodecRule struct {
	PixelFormats []string `yaml:"pixel_formats"`
}

// ContainerRule lists the codecs a container supports, in preference order.
type ContainerRule struct {
	Video []string `yaml:"video"`
	Audio []string `yaml:"audio"`
}

// container is the normalized form used for lookups.
type container struct {
	video []media.VideoCodec
	audio []media.AudioCodec
}

func (c container) supportsVideo(v media.VideoCodec) bool {
	for _, candidate := range c.video {
		if candidate == v {
			return true
		}
	}
	return false
}

func (c container) supportsAudio(a media.AudioCodec) bool {
	for _, candidate := range c.audio {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseRules parses a YAML rule table.
func ParseRules(data []byte) (*RuleTable, error) {
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("parsing rule table: %w", err)
	}
	if len(table.Containers) == 0 {
		return nil, fmt.Errorf("rule table has no containers")
	}
	if len(table.Precedence) == 0 {
		table.Precedence = []string{FieldAudioCodec, FieldPixelFormat}
	}
	for _, field := range table.Precedence {
		switch field {
		case FieldAudioCodec, FieldPixelFormat:
		default:
			return nil, fmt.Errorf("rule table precedence names unknown field %q", field)
		}
	}
	table.containers = make(map[media.Container]container, len(table.Containers))
	for name, rule := range table.Containers {
		c := container{}
		for _, v := range rule.Video {
			c.video = append(c.video, media.NormalizeVideoCodec(v))
		}
		for _, a := range rule.Audio {
			c.audio = append(c.audio, media.NormalizeAudioCodec(a))
		}
		if len(c.audio) == 0 {
			return nil, fmt.Errorf("container %q supports no audio codec", name)
		}
		if len(c.video) == 0 && !media.Container(name).IsAudioOnly() {
			return nil, fmt.Errorf("container %q supports no video codec", name)
		}
		table.containers[media.Container(name)] = c
	}
	return &table, nil
}

// DefaultRules parses the embedded rule table. The table ships with the
// binary; a parse failure is a build defect, so this panics.
func DefaultRules() *RuleTable {
	table, err := ParseRules(embeddedRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rule table invalid: %v", err))
	}
	return table
}

// pixelFormats returns the pixel formats the codec supports, or nil when the
// table does not constrain the codec.
func (t *RuleTable) pixelFormats(v media.VideoCodec) []media.PixelFormat {
	rule, ok := t.Codecs[v.String()]
	if !ok {
		return nil
	}
	formats := make([]media.PixelFormat, 0, len(rule.PixelFormats))
	for _, f := range rule.PixelFormats {
		formats = append(formats, media.PixelFormat(f))
	}
	return formats
}
