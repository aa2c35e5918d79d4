package mediasessions

import (
	"testing"
	"time"
)

func TestDisplayString(t *testing.T) {
	tests := []struct {
		artist, title, want string
	}{
		{"Queen", "Bohemian Rhapsody", "Queen - Bohemian Rhapsody"},
		{"", "Bohemian Rhapsody", "Bohemian Rhapsody"},
		{"Queen", "", "Queen"},
		{"", "", ""},
	}

	for _, tt := range tests {
		info := MediaInfo{Artist: tt.artist, Title: tt.title}
		if got := info.DisplayString(); got != tt.want {
			t.Errorf("DisplayString(%q, %q) = %q, want %q", tt.artist, tt.title, got, tt.want)
		}
	}
}

func TestProgress(t *testing.T) {
	dur := 4 * time.Minute
	pos := time.Minute

	info := MediaInfo{Duration: &dur, Position: &pos}
	if got := info.Progress(); got != 0.25 {
		t.Errorf("Progress() = %v, want 0.25", got)
	}

	// unknown duration or position reports zero progress
	if got := (&MediaInfo{Position: &pos}).Progress(); got != 0 {
		t.Errorf("Progress() without duration = %v, want 0", got)
	}
	if got := (&MediaInfo{Duration: &dur}).Progress(); got != 0 {
		t.Errorf("Progress() without position = %v, want 0", got)
	}

	// position past duration caps at 1
	over := 5 * time.Minute
	info = MediaInfo{Duration: &dur, Position: &over}
	if got := info.Progress(); got != 1 {
		t.Errorf("Progress() past end = %v, want 1", got)
	}
}

func TestArtworkFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A}, "PNG"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, "JPEG"},
		{"gif", []byte{0x47, 0x49, 0x46, 0x38, 0x39}, "GIF"},
		{"unknown", []byte{0x00, 0x01, 0x02}, ""},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := MediaInfo{Artwork: tt.data}
			if got := info.ArtworkFormat(); got != tt.want {
				t.Errorf("ArtworkFormat() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	dur := 3 * time.Minute
	pos := 30 * time.Second
	track := uint32(7)
	year := int32(1975)

	original := MediaInfo{
		Title:       "Track",
		Artwork:     []byte{1, 2, 3},
		Duration:    &dur,
		Position:    &pos,
		TrackNumber: &track,
		Year:        &year,
	}

	clone := original.Clone()

	clone.Artwork[0] = 99
	*clone.Position = time.Hour
	*clone.TrackNumber = 1
	*clone.Year = 2000

	if original.Artwork[0] != 1 {
		t.Error("clone shares artwork bytes with the original")
	}
	if *original.Position != 30*time.Second {
		t.Error("clone shares position pointer with the original")
	}
	if *original.TrackNumber != 7 {
		t.Error("clone shares track number pointer with the original")
	}
	if *original.Year != 1975 {
		t.Error("clone shares year pointer with the original")
	}
}

func TestSameContentIgnoresPlayhead(t *testing.T) {
	pos1 := 10 * time.Second
	pos2 := 20 * time.Second
	dur1 := 3 * time.Minute
	dur2 := 4 * time.Minute

	a := MediaInfo{Title: "Track", Status: StatusPlaying, Position: &pos1, Duration: &dur1}
	b := MediaInfo{Title: "Track", Status: StatusPlaying, Position: &pos2, Duration: &dur2}

	if !a.sameContent(&b) {
		t.Error("snapshots differing only in playhead should compare equal")
	}

	b.Title = "Other"
	if a.sameContent(&b) {
		t.Error("title change should be a material difference")
	}
}
