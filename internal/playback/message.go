// Package playback holds reply messages waiting to be spoken by the avatar.
package playback

import (
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/avatar-voice/internal/lipsync"
)

// Presentation defaults for replies.
const (
	DefaultMimeType   = "audio/wav"
	DefaultAnimation  = "Idle"
	DefaultExpression = "default"
)

// Message is one playable reply. Lipsync is nil when the audio could not be
// segmented; the avatar then plays the audio with its default mouth pose.
type Message struct {
	ID               string           `json:"id"`
	UtteranceID      string           `json:"utterance_id,omitempty"`
	Audio            []byte           `json:"audio"`
	MimeType         string           `json:"mime"`
	Lipsync          *lipsync.Lipsync `json:"lipsync"`
	Animation        string           `json:"animation"`
	FacialExpression string           `json:"facialExpression"`
	CreatedAt        time.Time        `json:"created_at"`
}

// HasCues reports whether mouth cues are available.
func (m Message) HasCues() bool { return m.Lipsync != nil }

// Build decodes and segments a reply audio buffer into a Message. A decode
// failure is returned alongside a usable cue-less Message.
func Build(data []byte, contentType string) (Message, error) {
	msg := Message{
		ID:               uuid.NewString(),
		Audio:            data,
		MimeType:         baseMime(contentType),
		Animation:        DefaultAnimation,
		FacialExpression: DefaultExpression,
		CreatedAt:        time.Now(),
	}
	cues, err := lipsync.SegmentWAV(data)
	if err != nil {
		return msg, err
	}
	if cues == nil {
		cues = []lipsync.MouthCue{}
	}
	msg.Lipsync = &lipsync.Lipsync{MouthCues: cues}
	return msg, nil
}

func baseMime(contentType string) string {
	if contentType == "" {
		return DefaultMimeType
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
