package turn

import "errors"

var (
	ErrAudioTooSmall = errors.New("audio is too small, record at least one second")
	ErrAudioTooLarge = errors.New("audio exceeds the 25 MB limit")
	// ErrNothingToSay 表示去掉来源后回答为空，不能发给数字人朗读。
	ErrNothingToSay             = errors.New("answer contained nothing to speak")
	ErrEmptyMessage             = errors.New("message is empty")
	ErrUnknownPersona           = errors.New("persona not found")
	ErrTranscriptionUnavailable = errors.New("transcription is not configured")
	ErrPatientUnavailable       = errors.New("patient model is not configured")
	ErrInstructorUnavailable    = errors.New("knowledge service is not configured")
)
