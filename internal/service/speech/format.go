package speech

import (
	"path/filepath"
	"strings"
)

// DefaultFormat is assumed when the file name carries no known extension;
// browsers record webm by default.
const DefaultFormat = "webm"

var mimeByFormat = map[string]string{
	"webm": "audio/webm",
	"mp4":  "audio/mp4",
	"m4a":  "audio/mp4",
	"mp3":  "audio/mpeg",
	"mpeg": "audio/mpeg",
	"mpga": "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"oga":  "audio/ogg",
}

// InferAudioFormat 从文件名推断音频格式。
func InferAudioFormat(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(filename))), ".")
	if _, ok := mimeByFormat[ext]; ok {
		return ext
	}
	return DefaultFormat
}

// MIMEType returns the audio MIME type derived from the file name.
func MIMEType(filename string) string {
	return mimeByFormat[InferAudioFormat(filename)]
}

// uploadName keeps the caller's name when its extension is recognized and
// otherwise substitutes one the provider accepts.
func uploadName(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	format := InferAudioFormat(name)
	if name == "" || name == "." || strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".") != format {
		return "recording." + format
	}
	return name
}
