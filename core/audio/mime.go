package audio

import (
	"mime"
	"path"
	"strings"
)

// PlayableTypes are the content types a browser player handles without
// going through the transcoder.
var PlayableTypes = []string{
	"audio/mpeg",
	"audio/mp3",
	"audio/mp4",
	"audio/aac",
	"audio/x-m4a",
	"audio/ogg",
	"audio/opus",
	"audio/webm",
	"audio/wav",
	"audio/x-wav",
}

var contentTypes = map[string]string{
	".aac":  "audio/aac",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".alac": "audio/mp4",
	".ape":  "audio/x-ape",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".webm": "audio/webm",
	".wma":  "audio/x-ms-wma",
}

// ContentTypeByExtension returns the audio MIME type for a file name or URL
// path, or "" when the extension is not a known audio format.
func ContentTypeByExtension(name string) string {
	return contentTypes[strings.ToLower(path.Ext(name))]
}

// RegisterMimeTypes teaches the mime package the audio types above so that
// http.FileServer labels them correctly.
func RegisterMimeTypes() error {
	for ext, typ := range contentTypes {
		if err := mime.AddExtensionType(ext, typ); err != nil {
			return err
		}
	}
	return nil
}

// MediaType strips parameters from a Content-Type value and lowercases it.
func MediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
