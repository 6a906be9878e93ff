package rtc

import (
	"fmt"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

const PreferredVideoCodec = "H264"

// PreferCodec moves the payload types of codec, and the rtx streams bound to
// them, to the front of every video m-line. Other formats keep their order.
func PreferCodec(raw, codec string) (string, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return raw, fmt.Errorf("parse sdp: %w", err)
	}

	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Media != "video" {
			continue
		}
		preferred := map[string]bool{}
		for _, a := range md.Attributes {
			if a.Key != "rtpmap" {
				continue
			}
			pt, name, ok := splitRtpmap(a.Value)
			if ok && strings.EqualFold(name, codec) {
				preferred[pt] = true
			}
		}
		if len(preferred) == 0 {
			continue
		}
		for _, a := range md.Attributes {
			if a.Key != "fmtp" {
				continue
			}
			pt, params, ok := strings.Cut(a.Value, " ")
			if !ok {
				continue
			}
			if apt, found := strings.CutPrefix(params, "apt="); found && preferred[apt] {
				preferred[pt] = true
			}
		}

		front := make([]string, 0, len(md.MediaName.Formats))
		rest := make([]string, 0, len(md.MediaName.Formats))
		for _, f := range md.MediaName.Formats {
			if preferred[f] {
				front = append(front, f)
			} else {
				rest = append(rest, f)
			}
		}
		md.MediaName.Formats = append(front, rest...)
	}

	out, err := sd.Marshal()
	if err != nil {
		return raw, fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}

// splitRtpmap splits "96 H264/90000" into "96" and "H264".
func splitRtpmap(v string) (pt, name string, ok bool) {
	pt, enc, ok := strings.Cut(v, " ")
	if !ok {
		return "", "", false
	}
	name, _, _ = strings.Cut(enc, "/")
	return pt, name, true
}
