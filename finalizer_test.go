package cortex

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func contextWithEvidence(t *testing.T, tier PrivacyTier, resources map[string]string) *ExecutionContext {
	t.Helper()
	ec := newTestContext()
	for k, v := range resources {
		if err := ec.AddEvidence(k, v); err != nil {
			t.Fatalf("AddEvidence failed: %v", err)
		}
	}
	if tier != "" {
		if err := ec.SetTier(tier); err != nil {
			t.Fatalf("SetTier failed: %v", err)
		}
	}
	return ec
}

func TestFinalizeGhostDeletesEverything(t *testing.T) {
	storage := newMockStorage()
	ec := contextWithEvidence(t, TierGhost, map[string]string{
		"audio":           "s3://b/a.wav",
		"image:wound":     "s3://b/w.png",
		"document:letter": "s3://b/l.pdf",
	})
	ec.SetOutputs(StepTranscribe, map[string]any{"transcript": "sensitive words"})

	summary := NewFinalizer(storage).Finalize(context.Background(), ec)

	want := []string{"audio", "document:letter", "image:wound"}
	if !reflect.DeepEqual(summary.Deleted, want) {
		t.Errorf("expected deleted %v, got %v", want, summary.Deleted)
	}
	if len(summary.Archived) != 0 || len(summary.Retained) != 0 || len(summary.Errors) != 0 {
		t.Errorf("GHOST should only delete: %+v", summary)
	}
	if len(storage.Deleted()) != 3 {
		t.Errorf("expected 3 storage deletes, got %d", len(storage.Deleted()))
	}

	if _, ok := ec.LookupOutput(StepTranscribe, "transcript"); ok {
		t.Error("transcript must be redacted after GHOST finalization")
	}
	if ec.GetOutput(StepTranscribe, "redacted", false) != true {
		t.Error("expected redaction marker on transcribe outputs")
	}
	if !reflect.DeepEqual(summary.Redacted, []string{StepTranscribe}) {
		t.Errorf("expected redacted [transcribe], got %v", summary.Redacted)
	}
}

func TestFinalizeStandardDeletesAudioOnly(t *testing.T) {
	storage := newMockStorage()
	ec := contextWithEvidence(t, TierStandard, map[string]string{
		"audio:session": "s3://b/a.wav",
		"document":      "s3://b/d.pdf",
	})
	ec.SetOutputs(StepTranscribe, map[string]any{"transcript": "kept"})

	summary := NewFinalizer(storage).Finalize(context.Background(), ec)

	if !reflect.DeepEqual(summary.Deleted, []string{"audio:session"}) {
		t.Errorf("expected audio deleted, got %v", summary.Deleted)
	}
	if !reflect.DeepEqual(summary.Retained, []string{"document"}) {
		t.Errorf("expected document retained, got %v", summary.Retained)
	}
	if _, ok := ec.GetString(StepTranscribe, "transcript"); !ok {
		t.Error("STANDARD must not redact transcripts")
	}
}

func TestFinalizeLegacyArchivesAudio(t *testing.T) {
	storage := newMockStorage()
	ec := contextWithEvidence(t, TierLegacy, map[string]string{
		"audio": "s3://b/a.wav",
		"photo": "s3://b/p.jpg",
	})

	summary := NewFinalizer(storage).Finalize(context.Background(), ec)

	if !reflect.DeepEqual(summary.Archived, []string{"audio"}) {
		t.Errorf("expected audio archived, got %v", summary.Archived)
	}
	if len(summary.Deleted) != 0 {
		t.Errorf("LEGACY must not delete, got %v", summary.Deleted)
	}
	if !reflect.DeepEqual(storage.Archived(), []string{"s3://b/a.wav"}) {
		t.Errorf("unexpected archive calls %v", storage.Archived())
	}
}

func TestFinalizeCollectsFailures(t *testing.T) {
	storage := newMockStorage()
	storage.fail["s3://b/broken.wav"] = errors.New("access denied")
	ec := contextWithEvidence(t, TierGhost, map[string]string{
		"audio:broken": "s3://b/broken.wav",
		"audio:fine":   "s3://b/fine.wav",
	})

	summary := NewFinalizer(storage).Finalize(context.Background(), ec)

	if !reflect.DeepEqual(summary.Errors, []string{"audio:broken"}) {
		t.Errorf("expected broken key in errors, got %v", summary.Errors)
	}
	if !reflect.DeepEqual(summary.Deleted, []string{"audio:fine"}) {
		t.Errorf("expected fine key deleted, got %v", summary.Deleted)
	}
}

func TestFinalizeWithoutStorage(t *testing.T) {
	ec := contextWithEvidence(t, TierStandard, map[string]string{"audio": "s3://b/a.wav"})

	summary := NewFinalizer(nil).Finalize(context.Background(), ec)
	if !reflect.DeepEqual(summary.Errors, []string{"audio"}) {
		t.Errorf("expected audio in errors without storage, got %v", summary.Errors)
	}
}

func TestFinalizeSkipsWithoutTier(t *testing.T) {
	storage := newMockStorage()
	ec := contextWithEvidence(t, "", map[string]string{"audio": "s3://b/a.wav"})

	summary := NewFinalizer(storage).Finalize(context.Background(), ec)
	if !summary.Skipped || summary.Reason != SkipNoTier {
		t.Errorf("expected skipped summary, got %+v", summary)
	}
	if len(storage.Deleted()) != 0 {
		t.Error("nothing should be deleted without a tier")
	}
}

func TestFinalizeEmptyEvidence(t *testing.T) {
	ec := contextWithEvidence(t, TierLegacy, nil)
	summary := NewFinalizer(newMockStorage()).Finalize(context.Background(), ec)

	if summary.Deleted == nil || summary.Archived == nil || summary.Errors == nil {
		t.Error("summary lists should be empty, not nil")
	}
	if len(summary.Deleted)+len(summary.Archived)+len(summary.Errors) != 0 {
		t.Errorf("expected empty summary, got %+v", summary)
	}
}

func TestTranscribedEvidenceIsAudioForRetention(t *testing.T) {
	for _, key := range []string{"video:audio_track", "Session_Audio", "audio:session"} {
		t.Run(key, func(t *testing.T) {
			provider := newMockProvider()
			ec := contextWithEvidence(t, TierStandard, map[string]string{
				key:               "s3://b/media",
				"document:letter": "s3://b/l.pdf",
			})
			if err := buildStep(t, StepTranscribe, provider, "").Execute(context.Background(), ec); err != nil {
				t.Fatalf("transcribe failed: %v", err)
			}
			if provider.lastContent() != "s3://b/media" {
				t.Fatalf("expected %s to be transcribed, got %q", key, provider.lastContent())
			}

			summary := NewFinalizer(newMockStorage()).Finalize(context.Background(), ec)
			if !reflect.DeepEqual(summary.Deleted, []string{key}) {
				t.Errorf("transcribed evidence must be deleted under STANDARD, got %v", summary.Deleted)
			}
			if !reflect.DeepEqual(summary.Retained, []string{"document:letter"}) {
				t.Errorf("expected document retained, got %v", summary.Retained)
			}
		})
	}
}

func TestIsAudio(t *testing.T) {
	tests := map[string]bool{
		"audio":             true,
		"video:audio_track": true,
		"Session_AUDIO":     true,
		"document:referral": false,
		"transcript:raw":    false,
	}
	for key, want := range tests {
		if got := IsAudio(key); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := map[string]ResourceKind{
		"audio":             KindAudio,
		"audio:session":     KindAudio,
		"session_audio":     KindAudio,
		"Image:Wound":       KindImage,
		"document:referral": KindDocument,
		"scan":              KindScan,
		"notes":             KindOther,
		"text:audio_notes":  KindText,
	}
	for key, want := range tests {
		if got := KindOf(key); got != want {
			t.Errorf("KindOf(%q) = %s, want %s", key, got, want)
		}
	}
}
