package rtc

import (
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
)

var ErrNoMedia = errors.New("session description has no media sections")

// MediaSummary counts the media sections of a description.
type MediaSummary struct {
	Audio int
	Video int
	Other int
}

// Inspect parses body and rejects descriptions without media.
func Inspect(body string) (MediaSummary, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(body)); err != nil {
		return MediaSummary{}, fmt.Errorf("parse sdp: %w", err)
	}
	var s MediaSummary
	for _, md := range parsed.MediaDescriptions {
		switch md.MediaName.Media {
		case "audio":
			s.Audio++
		case "video":
			s.Video++
		default:
			s.Other++
		}
	}
	if s.Audio+s.Video+s.Other == 0 {
		return s, ErrNoMedia
	}
	return s, nil
}
