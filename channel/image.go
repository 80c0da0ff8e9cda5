package channel

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"flowline.dev/common"
	"flowline.dev/media"
)

// maxImageWidth bounds the outbound image dimension the Dispatcher will
// forward to a Sender, grounded on media.ImageRescale's aspect-preserving
// resize. Platforms that need a smaller bound degrade further in their
// own Sender.Send.
const maxImageWidth = 1600

// prepareImage downloads msg.ImageURL to a temp file, downscales it with
// media.ImageRescale when it exceeds maxImageWidth, and rewrites ImageURL
// to a file:// URL of the resulting local file. Senders that upload image
// bytes directly (rather than passing a remote URL through to the
// platform) read that file; senders that just relay a URL are unaffected
// since they ignore the file:// rewrite by checking for a "http" scheme
// themselves. Errors downloading or decoding are non-fatal: the
// original ImageURL is sent unmodified, since a platform that accepts
// remote URLs directly (the common case) doesn't need this step at all.
func prepareImage(ctx context.Context, msg common.OutboundMessage) common.OutboundMessage {
	if msg.Kind != common.OutboundImage || msg.ImageURL == "" {
		return msg
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, msg.ImageURL, nil)
	if err != nil {
		return msg
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return msg
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return msg
	}

	ext := filepath.Ext(msg.ImageURL)
	if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
		ext = ".jpg"
	}

	in, err := os.CreateTemp("", "outbound-image-*"+ext)
	if err != nil {
		return msg
	}
	defer os.Remove(in.Name())
	if _, err := io.Copy(in, resp.Body); err != nil {
		in.Close()
		return msg
	}
	in.Close()

	if cfgFile, err := os.Open(in.Name()); err == nil {
		cfg, _, err := image.DecodeConfig(cfgFile)
		cfgFile.Close()
		if err == nil && cfg.Width <= maxImageWidth {
			return msg
		}
	}

	out, err := os.CreateTemp("", "outbound-image-rescaled-*"+ext)
	if err != nil {
		return msg
	}
	out.Close()

	if err := media.ImageRescale(in.Name(), out.Name(), maxImageWidth, 0); err != nil {
		os.Remove(out.Name())
		return msg
	}

	msg.ImageURL = fmt.Sprintf("file://%s", out.Name())
	return msg
}
