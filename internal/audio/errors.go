package audio

import "errors"

var (
	// ErrPermissionDenied is returned when access to the input device is refused.
	ErrPermissionDenied = errors.New("input permission denied")
	// ErrNoDeviceFound is returned when no matching input device exists.
	ErrNoDeviceFound = errors.New("no audio device found")
	// ErrAlreadyRecording is returned when a session of the same kind is already active.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrConflictingSession is returned when single and multi-track recording would overlap.
	ErrConflictingSession = errors.New("conflicting recording session active")
	// ErrNotPlaying is returned by punch-in when the transport is stopped.
	ErrNotPlaying = errors.New("transport is not playing")
	// ErrDeviceClosed is returned for operations on a torn-down output device.
	ErrDeviceClosed = errors.New("audio device closed")

	ErrNoTracks          = errors.New("no tracks selected")
	ErrUnknownTrack      = errors.New("unknown track")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrNotWAV            = errors.New("not a canonical PCM16 WAV stream")
)
