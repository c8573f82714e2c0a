package apm

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// CaptureStacktrace samples the calling goroutine's stack, skipping
// skip frames above itself, at most limit frames deep. Frames without
// a resolvable function or file are dropped rather than padded, the
// collector rejects incomplete frames. Capture is best-effort: any
// failure yields a partial or empty list, never an error.
func CaptureStacktrace(skip int, limit int) (frames []Frame) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Debugf("outspan couldn't capture stacktrace: %v", r)
		}
	}()

	if limit <= 0 {
		return nil
	}

	pcs := make([]uintptr, limit)
	// +2 skips runtime.Callers and this function
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	iter := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := iter.Next()
		if fr.Function != "" && fr.File != "" {
			frames = append(frames, Frame{
				Function: fr.Function,
				Module:   moduleOf(fr.Function),
				File:     fr.File,
				Line:     fr.Line,
			})
		}
		if !more {
			return frames
		}
	}
}

// moduleOf extracts the import path from a fully qualified function
// name, e.g. "github.com/foo/bar.(*T).Do" -> "github.com/foo/bar".
func moduleOf(function string) string {
	slash := strings.LastIndex(function, "/")
	dot := strings.Index(function[slash+1:], ".")
	if dot < 0 {
		return ""
	}
	return function[:slash+1+dot]
}
