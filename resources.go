package cortex

import (
	"context"
	"strings"
)

// ResourceKind classifies an evidence key by its "{kind}:{name}" prefix.
type ResourceKind string

// Resource kinds.
const (
	KindAudio      ResourceKind = "audio"
	KindVideo      ResourceKind = "video"
	KindImage      ResourceKind = "image"
	KindDocument   ResourceKind = "document"
	KindPhoto      ResourceKind = "photo"
	KindScan       ResourceKind = "scan"
	KindTranscript ResourceKind = "transcript"
	KindText       ResourceKind = "text"
	KindOther      ResourceKind = "other"
)

// resourceKinds is checked in order when a key has no recognised prefix.
var resourceKinds = []ResourceKind{
	KindAudio, KindVideo, KindImage, KindDocument, KindPhoto, KindScan, KindTranscript, KindText,
}

// String implements fmt.Stringer.
func (k ResourceKind) String() string {
	return string(k)
}

// KindOf classifies key. The "{kind}:" prefix wins; otherwise the first kind
// whose name appears in the key; otherwise KindOther.
func KindOf(key string) ResourceKind {
	lower := strings.ToLower(key)
	if prefix, _, ok := strings.Cut(lower, ":"); ok {
		for _, k := range resourceKinds {
			if prefix == string(k) {
				return k
			}
		}
	}
	for _, k := range resourceKinds {
		if strings.Contains(lower, string(k)) {
			return k
		}
	}
	return KindOther
}

// IsAudio reports whether key follows the audio naming convention: the key
// mentions "audio" anywhere (case-insensitive). transcribe selects its input
// with the same predicate the finalizer uses for retention.
func IsAudio(key string) bool {
	return strings.Contains(strings.ToLower(key), string(KindAudio))
}

// ObjectStorage removes or archives evidence by locator.
type ObjectStorage interface {
	// Delete removes the object at uri.
	Delete(ctx context.Context, uri string) error

	// MoveToCold moves the object at uri to archival storage.
	MoveToCold(ctx context.Context, uri string) error
}
