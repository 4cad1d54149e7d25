package content

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxmark/voxmark/pkg/audio"
)

// Narrator turns studio text (ad reads, article summaries) into downloadable
// speech. The Gemini TTS surface returns raw 24 kHz PCM; Narrator wraps it in
// a WAV container so any player can handle the result.
type Narrator struct {
	client *Client
	model  string
	voice  string
}

// NewNarrator creates a Narrator using client, the given TTS model, and a
// prebuilt voice name.
func NewNarrator(client *Client, model, voice string) *Narrator {
	return &Narrator{client: client, model: model, voice: voice}
}

// Narrate synthesises text and returns a complete WAV file.
func (n *Narrator) Narrate(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("content: narration needs text")
	}
	pcm, err := n.client.SynthesizeSpeech(ctx, n.model, n.voice, text)
	if err != nil {
		return nil, fmt.Errorf("content: narrate: %w", err)
	}
	return audio.WrapWAV(pcm, audio.PlaybackRate), nil
}
